package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCompleted, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
			if tt.ok {
				assert.Greater(t, tt.to.Rank(), tt.from.Rank())
			}
		})
	}

	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, Status("paused").Valid())
}

func TestJobOutcome(t *testing.T) {
	job := &Job{ID: "j", Status: StatusProcessing, Progress: ProgressAligning}
	out := job.Outcome()
	require.IsType(t, Processing{}, out)
	assert.Equal(t, ProgressAligning, out.(Processing).Progress)

	job.Status = StatusFailed
	job.Error = "load: baseline image: undecodable image"
	failed, ok := job.Outcome().(Failed)
	require.True(t, ok)
	assert.Equal(t, job.Error, failed.Error)

	job.Status = StatusCompleted
	job.Error = ""
	job.Result = &Result{NumChanges: 1, Regions: []Region{{ID: 1, ClassifiedLabel: "Halo"}}}
	completed, ok := job.Outcome().(Completed)
	require.True(t, ok)
	assert.Equal(t, 1, completed.Result.NumChanges)
	assert.Equal(t, "completed", completed.Kind())
}

func TestJobClone(t *testing.T) {
	now := time.Now()
	transform := [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	job := &Job{
		ID:        "j",
		StartedAt: &now,
		Metadata:  map[string]any{"car": "44"},
		ROI:       &BBox{X1: 10, Y1: 10},
		Result: &Result{
			Regions:   []Region{{ID: 1, Alternatives: []Label{{Label: "Floor"}}}},
			Artifacts: []string{"metadata"},
			Alignment: Alignment{Transform: &transform},
		},
	}

	c := job.Clone()
	c.Metadata["car"] = "1"
	c.ROI.X1 = 99
	c.Result.Regions[0].Alternatives[0].Label = "Halo"
	c.Result.Artifacts[0] = "x"
	c.Result.Alignment.Transform[0] = 7

	assert.Equal(t, "44", job.Metadata["car"])
	assert.Equal(t, 10, job.ROI.X1)
	assert.Equal(t, "Floor", job.Result.Regions[0].Alternatives[0].Label)
	assert.Equal(t, "metadata", job.Result.Artifacts[0])
	assert.Equal(t, 1.0, job.Result.Alignment.Transform[0])
}
