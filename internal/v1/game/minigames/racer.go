package minigames

import (
	"sort"
	"time"

	"github.com/confessbox/confessbox/internal/v1/types"
)

const (
	racerLanes        = 4
	racerTrackLength  = 500.0
	racerMaxSpeed     = 5.0 // units per second
	racerBoostSpeed   = 8.0 // speed cap while boosting
	racerAcceleration = 3.0 // units per second^2
	racerBrakeForce   = 5.0
	racerFriction     = 1.0
	racerBoostCharges = 3
	racerBoostTime    = 2 * time.Second
	racerLaneCooldown = 300 * time.Millisecond
	racerCountdown    = 3
)

const (
	racerPhaseCountdown = "countdown"
	racerPhaseRunning   = "running"
	racerPhaseEnded     = "ended"
)

type racerInputs struct {
	Accelerate bool `json:"accelerate"`
	Brake      bool `json:"brake"`
	Left       bool `json:"left"`
	Right      bool `json:"right"`
	Boost      bool `json:"boost"`
}

type racerPlayer struct {
	userID       types.UserID
	lane         int
	position     float64
	speed        float64
	inputs       racerInputs
	boostCharges int
	boostUntil   time.Time
	laneMovedAt  time.Time
	finishedAt   time.Time
	finished     bool
	disconnected bool
}

// Racer is a lane-based race to a fixed finish line: held inputs drive the
// 60 Hz simulation, braking overrides acceleration, boost trades a limited
// charge for a temporary speed cap raise. The first finisher wins and ends
// the race.
type Racer struct {
	sink    Sink
	order   []types.UserID
	players map[types.UserID]*racerPlayer
	phase   string
	count   int
	ticks   int

	countdownTimer *time.Timer
}

// NewRacer assigns lanes in join order, wrapping past four players.
func NewRacer(playerIDs []types.UserID, sink Sink) *Racer {
	g := &Racer{
		sink:    sink,
		order:   append([]types.UserID(nil), playerIDs...),
		players: make(map[types.UserID]*racerPlayer, len(playerIDs)),
		phase:   racerPhaseCountdown,
		count:   racerCountdown,
	}
	for i, id := range playerIDs {
		g.players[id] = &racerPlayer{
			userID:       id,
			lane:         i % racerLanes,
			boostCharges: racerBoostCharges,
		}
	}
	return g
}

func (g *Racer) Type() types.GameType    { return types.GameTypeRacer }
func (g *Racer) Players() []types.UserID { return append([]types.UserID(nil), g.order...) }

func (g *Racer) Start() {
	g.sink.StateChanged()
	g.stepCountdown()
}

func (g *Racer) stepCountdown() {
	g.countdownTimer = g.sink.Defer(time.Second, func() {
		if g.phase != racerPhaseCountdown {
			return
		}
		g.count--
		if g.count <= 0 {
			g.phase = racerPhaseRunning
			g.sink.StartTick()
		}
		g.sink.StateChanged()
		if g.phase == racerPhaseCountdown {
			g.stepCountdown()
		}
	})
}

func (g *Racer) Cleanup() {
	if g.countdownTimer != nil {
		g.countdownTimer.Stop()
		g.countdownTimer = nil
	}
}

func (g *Racer) HandleDisconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = true
		// a dropped client stops steering; clear held inputs so the car coasts
		p.inputs = racerInputs{}
	}
}

func (g *Racer) HandleReconnect(playerID types.UserID) {
	if p, ok := g.players[playerID]; ok {
		p.disconnected = false
	}
}

func (g *Racer) ProcessAction(playerID types.UserID, action Action) error {
	p, ok := g.players[playerID]
	if !ok {
		return types.NewValidationError("action", "not an active player")
	}
	if action.Name != "input" {
		return types.NewValidationError("action", "unknown action "+action.Name)
	}
	if g.phase != racerPhaseRunning || p.finished {
		// inputs during countdown or after finishing are discarded, not errors
		return nil
	}

	in := getMap(action.Data, "inputs")
	next := racerInputs{
		Accelerate: getBool(in, "accelerate"),
		Brake:      getBool(in, "brake"),
		Left:       getBool(in, "left"),
		Right:      getBool(in, "right"),
		Boost:      getBool(in, "boost"),
	}

	now := time.Now()
	if next.Boost && !p.inputs.Boost && p.boostCharges > 0 && now.After(p.boostUntil) {
		p.boostCharges--
		p.boostUntil = now.Add(racerBoostTime)
	}
	if now.Sub(p.laneMovedAt) >= racerLaneCooldown {
		switch {
		case next.Left && !next.Right && p.lane > 0:
			p.lane--
			p.laneMovedAt = now
		case next.Right && !next.Left && p.lane < racerLanes-1:
			p.lane++
			p.laneMovedAt = now
		}
	}
	p.inputs = next
	return nil
}

// Tick advances the simulation by delta. Braking overrides acceleration; with
// neither held, friction bleeds speed toward zero.
func (g *Racer) Tick(delta time.Duration) {
	if g.phase != racerPhaseRunning {
		return
	}
	dt := delta.Seconds()
	now := time.Now()

	for _, id := range g.order {
		p := g.players[id]
		if p.finished {
			continue
		}

		switch {
		case p.inputs.Brake:
			p.speed -= racerBrakeForce * dt
		case p.inputs.Accelerate:
			p.speed += racerAcceleration * dt
		default:
			p.speed -= racerFriction * dt
		}

		cap := racerMaxSpeed
		if now.Before(p.boostUntil) {
			cap = racerBoostSpeed
		}
		if p.speed > cap {
			p.speed = cap
		}
		if p.speed < 0 {
			p.speed = 0
		}

		p.position += p.speed * dt
		if p.position >= racerTrackLength {
			p.position = racerTrackLength
			p.finished = true
			p.finishedAt = now
		}
	}

	for _, p := range g.players {
		if p.finished {
			g.finish()
			return
		}
	}

	// broadcast every third simulation tick (60 Hz sim, 20 Hz wire)
	g.ticks++
	if g.ticks%3 == 0 {
		g.sink.StateChanged()
	}
}

func (g *Racer) finish() {
	g.phase = racerPhaseEnded
	g.sink.StopTick()
	g.Cleanup()

	ranked := make([]*racerPlayer, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, g.players[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.finished != b.finished {
			return a.finished
		}
		if a.finished && b.finished {
			return a.finishedAt.Before(b.finishedAt)
		}
		return a.position > b.position
	})

	rankings := make([]types.Ranking, 0, len(ranked))
	for i, p := range ranked {
		rankings = append(rankings, types.Ranking{
			UserID:   p.userID,
			Position: i + 1,
			Score:    int(p.position),
		})
	}

	g.sink.StateChanged()
	g.sink.Ended(types.GameResult{
		WinnerUserID: ranked[0].userID,
		Rankings:     rankings,
	})
}

type racerPlayerView struct {
	UserID       types.UserID `json:"userId"`
	Lane         int          `json:"lane"`
	Position     float64      `json:"position"`
	Speed        float64      `json:"speed"`
	BoostCharges int          `json:"boostCharges"`
	Boosting     bool         `json:"boosting"`
	Finished     bool         `json:"finished"`
	Disconnected bool         `json:"disconnected"`
}

type racerStateView struct {
	Phase       string            `json:"phase"`
	Countdown   int               `json:"countdown"`
	TrackLength float64           `json:"trackLength"`
	Lanes       int               `json:"lanes"`
	Players     []racerPlayerView `json:"players"`
}

// ProjectState is identical for every recipient; the race has no hidden
// information.
func (g *Racer) ProjectState(types.UserID) any {
	now := time.Now()
	view := racerStateView{
		Phase:       g.phase,
		Countdown:   g.count,
		TrackLength: racerTrackLength,
		Lanes:       racerLanes,
	}
	for _, id := range g.order {
		p := g.players[id]
		view.Players = append(view.Players, racerPlayerView{
			UserID:       id,
			Lane:         p.lane,
			Position:     p.position,
			Speed:        p.speed,
			BoostCharges: p.boostCharges,
			Boosting:     now.Before(p.boostUntil),
			Finished:     p.finished,
			Disconnected: p.disconnected,
		})
	}
	return view
}
