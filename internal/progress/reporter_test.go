package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAndGet(t *testing.T) {
	r := NewReporter(time.Hour)

	r.Report("id-1", StatusRunning, 40, "scoring")
	rec, ok := r.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 40, rec.Progress)
	assert.Equal(t, "scoring", rec.Message)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestReportClampsPercentage(t *testing.T) {
	r := NewReporter(time.Hour)

	r.Report("low", StatusRunning, -5, "")
	rec, _ := r.Get("low")
	assert.Equal(t, 0, rec.Progress)

	r.Report("high", StatusRunning, 250, "")
	rec, _ = r.Get("high")
	assert.Equal(t, 100, rec.Progress)
}

func TestFailIsTerminal(t *testing.T) {
	r := NewReporter(time.Hour)
	r.Fail("id-1", "boom")

	rec, ok := r.Get("id-1")
	require.True(t, ok)
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "boom", rec.Error)
	assert.True(t, rec.Status.Terminal())
}

func TestTerminalRecordsAreEvicted(t *testing.T) {
	r := NewReporter(time.Millisecond)

	r.Report("done", StatusCompleted, 100, "finished")
	r.Report("live", StatusRunning, 10, "")
	time.Sleep(5 * time.Millisecond)

	// Eviction happens on the next write.
	r.Report("other", StatusRunning, 20, "")

	_, ok := r.Get("done")
	assert.False(t, ok, "terminal record should be evicted after retention")
	_, ok = r.Get("live")
	assert.True(t, ok, "non-terminal records survive eviction")
}

func TestTerminalStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
