package minigames

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func racerInput(t *testing.T, g *Racer, player string, in map[string]any) {
	t.Helper()
	require.NoError(t, g.ProcessAction(ids(player)[0], Action{
		Name: "input",
		Data: map[string]any{"inputs": in},
	}))
}

func startRace(t *testing.T, rec *sinkRecorder, g *Racer) {
	t.Helper()
	g.Start()
	for i := 0; i < racerCountdown; i++ {
		require.NotEmpty(t, rec.deferred)
		rec.fireNext()
	}
	require.Equal(t, racerPhaseRunning, g.phase)
	assert.True(t, rec.ticking, "the tick loop starts when the countdown hits zero")
}

func TestCountdownSequence(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	g.Start()

	assert.Equal(t, racerPhaseCountdown, g.phase)
	assert.Equal(t, racerCountdown, g.count)

	rec.fireNext()
	assert.Equal(t, 2, g.count)
	rec.fireNext()
	rec.fireNext()
	assert.Equal(t, racerPhaseRunning, g.phase)
}

func TestLaneAssignmentWraps(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("p1", "p2", "p3", "p4", "p5"), rec.sink())

	assert.Equal(t, 0, g.players["p1"].lane)
	assert.Equal(t, 3, g.players["p4"].lane)
	assert.Equal(t, 0, g.players["p5"].lane, "fifth player shares lane zero")
}

func TestRaceTuning(t *testing.T) {
	assert.Equal(t, 500.0, racerTrackLength)
	assert.Equal(t, 5.0, racerMaxSpeed)
	assert.Equal(t, 8.0, racerBoostSpeed)
	assert.Equal(t, 3.0, racerAcceleration)
	assert.Equal(t, 5.0, racerBrakeForce)
	assert.Equal(t, 1.0, racerFriction)
}

func TestAccelerationAndFriction(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	racerInput(t, g, "alice", map[string]any{"accelerate": true})
	g.Tick(time.Second)

	p := g.players["alice"]
	assert.InDelta(t, racerAcceleration, p.speed, 0.01)
	assert.InDelta(t, racerAcceleration, p.position, 0.01)

	// release the pedal: friction bleeds speed
	racerInput(t, g, "alice", map[string]any{})
	g.Tick(time.Second)
	assert.InDelta(t, racerAcceleration-racerFriction, p.speed, 0.01)
}

func TestBrakeOverridesAccelerate(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	racerInput(t, g, "alice", map[string]any{"accelerate": true})
	g.Tick(time.Second)
	require.Greater(t, g.players["alice"].speed, 0.0)

	racerInput(t, g, "alice", map[string]any{"accelerate": true, "brake": true})
	g.Tick(time.Second)
	assert.Equal(t, 0.0, g.players["alice"].speed, "braking wins over accelerating and clamps at zero")
}

func TestSpeedCapAndBoost(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	racerInput(t, g, "alice", map[string]any{"accelerate": true})
	for i := 0; i < 5; i++ {
		g.Tick(time.Second)
	}
	assert.InDelta(t, racerMaxSpeed, g.players["alice"].speed, 0.01, "capped without boost")

	racerInput(t, g, "alice", map[string]any{"accelerate": true, "boost": true})
	assert.Equal(t, racerBoostCharges-1, g.players["alice"].boostCharges)
	g.Tick(time.Second)
	assert.Greater(t, g.players["alice"].speed, racerMaxSpeed, "boost raises the cap")
}

func TestBoostRequiresCharges(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	g.players["alice"].boostCharges = 0
	racerInput(t, g, "alice", map[string]any{"boost": true})
	assert.Equal(t, 0, g.players["alice"].boostCharges)
	assert.True(t, g.players["alice"].boostUntil.IsZero() || time.Now().After(g.players["alice"].boostUntil))
}

func TestLaneChangeCooldown(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	p := g.players["bob"] // starts in lane 1
	require.Equal(t, 1, p.lane)

	racerInput(t, g, "bob", map[string]any{"left": true})
	assert.Equal(t, 0, p.lane)

	// immediately steering back is inside the cooldown
	racerInput(t, g, "bob", map[string]any{"right": true})
	assert.Equal(t, 0, p.lane)

	p.laneMovedAt = time.Now().Add(-racerLaneCooldown)
	racerInput(t, g, "bob", map[string]any{"right": true})
	assert.Equal(t, 1, p.lane)
}

func TestLaneBounds(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	p := g.players["alice"]
	require.Equal(t, 0, p.lane)
	racerInput(t, g, "alice", map[string]any{"left": true})
	assert.Equal(t, 0, p.lane, "cannot steer past the first lane")
}

func TestFirstFinisherWinsAndEndsRace(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	g.players["alice"].position = racerTrackLength - 1
	g.players["alice"].speed = racerMaxSpeed
	g.players["bob"].position = 100

	g.Tick(time.Second)

	require.Len(t, rec.results, 1)
	result := rec.lastResult()
	assert.EqualValues(t, "alice", result.WinnerUserID)
	require.Len(t, result.Rankings, 2)
	assert.Equal(t, 1, result.Rankings[0].Position)
	assert.EqualValues(t, "bob", result.Rankings[1].UserID)
	assert.False(t, rec.ticking, "tick loop stops at the finish")
	assert.Equal(t, racerPhaseEnded, g.phase)
}

func TestInputsIgnoredDuringCountdown(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	g.Start()

	// discarded silently, not an error
	racerInput(t, g, "alice", map[string]any{"accelerate": true})
	assert.False(t, g.players["alice"].inputs.Accelerate)
}

func TestDisconnectClearsHeldInputs(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	racerInput(t, g, "alice", map[string]any{"accelerate": true})
	g.HandleDisconnect("alice")

	assert.False(t, g.players["alice"].inputs.Accelerate, "a dropped client must not keep accelerating")
	assert.True(t, g.players["alice"].disconnected)

	g.HandleReconnect("alice")
	assert.False(t, g.players["alice"].disconnected)
}

func TestBroadcastDownsampling(t *testing.T) {
	rec := newSinkRecorder()
	g := NewRacer(ids("alice", "bob"), rec.sink())
	startRace(t, rec, g)

	before := rec.stateChanges
	for i := 0; i < 6; i++ {
		g.Tick(tickDelta())
	}
	assert.Equal(t, before+2, rec.stateChanges, "one broadcast per three simulation ticks")
}

func tickDelta() time.Duration { return time.Second / 60 }
