package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anomaly-backend/internal/models"
	"anomaly-backend/internal/repository"
)

func TestSessionManagerBeginIsExclusivePerDataset(t *testing.T) {
	m := NewSessionManager(repository.NewMemorySessionRepository(), time.Hour, zap.NewNop())

	s1, reused, err := m.Begin("d1")
	require.NoError(t, err)
	assert.False(t, reused)

	s2, reused, err := m.Begin("d1")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, s1.ID, s2.ID)

	// Other datasets are unaffected.
	s3, reused, err := m.Begin("d2")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, s1.ID, s3.ID)
}

func TestSessionManagerCompleteReleasesDataset(t *testing.T) {
	m := NewSessionManager(repository.NewMemorySessionRepository(), time.Hour, zap.NewNop())

	s1, _, err := m.Begin("d1")
	require.NoError(t, err)
	m.Complete(s1.ID, models.SessionCompleted, "")

	s2, reused, err := m.Begin("d1")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestSessionManagerReclaimsStaleSession(t *testing.T) {
	repo := repository.NewMemorySessionRepository()
	m := NewSessionManager(repo, -time.Second, zap.NewNop())

	s1, _, err := m.Begin("d1")
	require.NoError(t, err)

	s2, reused, err := m.Begin("d1")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, s1.ID, s2.ID)
}
