package ledger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginFinishOK(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Begin("scale", "configure", "demo", false)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, s.Finish(id, nil))

	runs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "scale", runs[0].App)
	assert.Equal(t, "configure", runs[0].Stage)
	assert.Equal(t, "demo", runs[0].Experiment)
	assert.False(t, runs[0].DryRun)
	assert.Equal(t, StatusOK, runs[0].Status)
	assert.Empty(t, runs[0].Error)
}

func TestFinishRecordsFailure(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Begin("scale", "post-start", "demo", true)
	require.NoError(t, err)
	require.NoError(t, s.Finish(id, errors.New("cc send failed")))

	runs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.True(t, runs[0].DryRun)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "cc send failed", runs[0].Error)
}

func TestListLimit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		id, err := s.Begin("scale", "configure", "demo", false)
		require.NoError(t, err)
		require.NoError(t, s.Finish(id, nil))
	}

	runs, err := s.List(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
