package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	table, err := Parse([]byte("amount,country\n12.5,DE\n99.0,FR\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "country"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"12.5", "DE"}, table.Rows[0])
	assert.Equal(t, []string{"99.0", "FR"}, table.Rows[1])
}

func TestParseQuotedCells(t *testing.T) {
	table, err := Parse([]byte("name,note\nalice,\"hello, world\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "hello, world"}, table.Rows[0])
}

func TestParseEmptyFile(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorContains(t, err, "empty file")
}

func TestParseHeaderOnly(t *testing.T) {
	_, err := Parse([]byte("amount,country\n"))
	assert.ErrorContains(t, err, "no data rows")
}

func TestParseRaggedRow(t *testing.T) {
	_, err := Parse([]byte("amount,country\n12.5,DE\n99.0\n"))
	assert.Error(t, err)
}
