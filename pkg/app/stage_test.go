package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	for _, st := range Stages() {
		got, err := ParseStage(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
}

func TestParseStageRejectsUnknown(t *testing.T) {
	for _, bad := range []string{"", "start", "poststart", "Configure"} {
		_, err := ParseStage(bad)
		require.Error(t, err, "stage %q", bad)
	}
}

func TestStagesOrder(t *testing.T) {
	want := []Stage{StageConfigure, StagePreStart, StagePostStart, StageRunning, StageCleanup}
	assert.Equal(t, want, Stages())
}
