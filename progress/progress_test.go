package progress

import (
	"testing"
	"time"

	"github.com/poiesic/conduit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ingestionStages() []Stage {
	return []Stage{
		{Name: "extract", Weight: 20},
		{Name: "embed", Weight: 50},
		{Name: "store", Weight: 30},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(Config{GracePeriod: 50 * time.Millisecond})
	t.Cleanup(r.Close)
	return r
}

func TestRegistry_CreateValidation(t *testing.T) {
	r := newTestRegistry(t)

	assert.ErrorIs(t, r.Create("", ingestionStages()), core.ErrValidation)
	assert.ErrorIs(t, r.Create("t1", nil), core.ErrValidation)
	assert.ErrorIs(t, r.Create("t1", []Stage{{Name: "only", Weight: 60}}), core.ErrValidation,
		"weights must sum to 100")
	assert.ErrorIs(t, r.Create("t1", []Stage{
		{Name: "a", Weight: 50}, {Name: "a", Weight: 50},
	}), core.ErrValidation, "duplicate stage names")

	require.NoError(t, r.Create("t1", ingestionStages()))
	assert.ErrorIs(t, r.Create("t1", ingestionStages()), ErrTrackerExists)
}

func TestRegistry_WeightedOverall(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create("t1", ingestionStages()))

	require.NoError(t, r.UpdateStage("t1", "extract", 100))
	require.NoError(t, r.UpdateStage("t1", "embed", 50))

	status, err := r.Status("t1")
	require.NoError(t, err)
	// 100% of 20 + 50% of 50 + 0% of 30 = 45
	assert.InDelta(t, 45.0, status.Overall, 1e-9)
	assert.Equal(t, StateActive, status.State)
}

func TestRegistry_UpdateUnknownStage(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create("t1", ingestionStages()))

	assert.ErrorIs(t, r.UpdateStage("t1", "transcode", 10), core.ErrValidation)
	assert.ErrorIs(t, r.UpdateStage("missing", "extract", 10), ErrTrackerNotFound)
}

func TestRegistry_ETAExtrapolation(t *testing.T) {
	r := newTestRegistry(t)
	start := time.Now()
	r.now = func() time.Time { return start }
	require.NoError(t, r.Create("t1", ingestionStages()))

	// 25% done after 10 seconds projects 40s total, 30s remaining.
	r.now = func() time.Time { return start.Add(10 * time.Second) }
	require.NoError(t, r.UpdateStage("t1", "extract", 100))
	require.NoError(t, r.UpdateStage("t1", "embed", 10))

	status, err := r.Status("t1")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, status.Overall, 1e-9)
	assert.InDelta(t, float64(30*time.Second), float64(status.ETA), float64(time.Millisecond))

	// No signal yet means no ETA.
	require.NoError(t, r.Create("t2", ingestionStages()))
	status, err = r.Status("t2")
	require.NoError(t, err)
	assert.Zero(t, status.ETA)
}

func TestRegistry_CompleteForcesStagesAndScheduleRemoval(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create("t1", ingestionStages()))
	require.NoError(t, r.UpdateStage("t1", "extract", 40))

	require.NoError(t, r.Complete("t1"))

	// Terminal status stays queryable during the grace period.
	status, err := r.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.InDelta(t, 100.0, status.Overall, 1e-9)

	assert.ErrorIs(t, r.UpdateStage("t1", "extract", 50), ErrTrackerFinished)
	assert.ErrorIs(t, r.Complete("t1"), ErrTrackerFinished)

	require.Eventually(t, func() bool {
		_, serr := r.Status("t1")
		return serr != nil
	}, time.Second, 5*time.Millisecond, "tracker should be removed after the grace period")
}

func TestRegistry_FailKeepsStagePercentages(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create("t1", ingestionStages()))
	require.NoError(t, r.UpdateStage("t1", "extract", 100))

	require.NoError(t, r.Fail("t1", "embedder unreachable"))

	status, err := r.Status("t1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "embedder unreachable", status.Error)
	assert.InDelta(t, 20.0, status.Overall, 1e-9)
}

func TestRegistry_SubscriberReceivesLifecycleEvents(t *testing.T) {
	r := newTestRegistry(t)
	events, unsubscribe := r.Subscribe(16)
	defer unsubscribe()

	require.NoError(t, r.Create("t1", ingestionStages()))
	require.NoError(t, r.UpdateStage("t1", "extract", 50))
	require.NoError(t, r.Complete("t1"))

	var got []EventType
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	assert.Equal(t, []EventType{EventCreated, EventUpdated, EventCompleted}, got)
}

func TestRegistry_UnsubscribeStopsDelivery(t *testing.T) {
	r := newTestRegistry(t)
	events, unsubscribe := r.Subscribe(1)
	unsubscribe()

	_, open := <-events
	assert.False(t, open, "unsubscribed channel must be closed")

	require.NoError(t, r.Create("t1", ingestionStages()))
}

func TestRegistry_ActiveCount(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Create("t1", ingestionStages()))
	require.NoError(t, r.Create("t2", ingestionStages()))
	assert.Equal(t, 2, r.Active())

	require.NoError(t, r.Complete("t1"))
	assert.Equal(t, 1, r.Active())
}
