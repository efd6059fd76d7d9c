// Package match implements the match lifecycle: the waiting room, the
// command-tick/sub-tick loop, standing orders, and the delay-line of
// arena snapshots consumed by spectator sessions.
package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"robot-battle/internal/arena"
	"robot-battle/internal/config"
	"robot-battle/internal/eventlog"
	"robot-battle/internal/metrics"
	"robot-battle/internal/storage"
)

// Sentinel join errors, per the error taxonomy in the session controller.
var (
	ErrMatchFull                   = errors.New("match_full")
	ErrAlreadyJoined                = errors.New("already_joined")
	ErrGameStartedLateEntrantsDisallowed = errors.New("game_started_late_entrants_disallowed")
)

// Match owns one arena and the sessions bound to it. It is constructed
// without launching any goroutine (Start does that), so unit tests can
// exercise Join/Enqueue/Snapshot against a Match that never ticks.
type Match struct {
	ID     int
	Params config.GameParameters

	MinNumPlayers     int
	WaitTime          time.Duration
	AllowLateEntrants bool

	sink     storage.ResultSink
	eventLog *eventlog.Log

	mu              sync.RWMutex
	arena           *arena.Arena
	started         bool
	finished        bool
	commandQueues   map[string][]arena.Command
	playerSecrets   map[string]string
	playerConnected map[string]bool
	commandTally    map[string]map[arena.CommandType]int
	delayLine       []*arena.Arena
	tickCh          chan struct{}
	rng             *rand.Rand
	rngSeed         int64

	stopChan chan struct{}
	stopOnce sync.Once
	doneChan chan struct{}
}

// New constructs a match in its waiting-room state. rngSeed seeds the
// deterministic RNG used for initial placement and weapon noise.
func New(id int, params config.GameParameters, sink storage.ResultSink, log *eventlog.Log, rngSeed int64) *Match {
	return &Match{
		ID:                id,
		Params:            params,
		MinNumPlayers:     params.MinMatchPlayers,
		WaitTime:          params.WaitTime,
		AllowLateEntrants: false,
		sink:              sink,
		eventLog:          log,
		arena:             arena.NewArena(params),
		commandQueues:     make(map[string][]arena.Command),
		playerSecrets:     make(map[string]string),
		playerConnected:   make(map[string]bool),
		commandTally:      make(map[string]map[arena.CommandType]int),
		tickCh:            make(chan struct{}),
		rng:               rand.New(rand.NewSource(rngSeed)),
		rngSeed:           rngSeed,
		stopChan:          make(chan struct{}),
		doneChan:          make(chan struct{}),
	}
}

// Start launches the match's tick loop in its own goroutine. It must be
// called at most once.
func (m *Match) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop cancels the match loop. The loop observes this at the next
// suspension point; in-flight sessions are unaffected except that they
// will stop receiving new ticks.
func (m *Match) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// Done returns a channel closed when the match loop has exited, whether
// by finishing normally or being stopped.
func (m *Match) Done() <-chan struct{} {
	return m.doneChan
}

// Join implements the player-session admission rules: rejoin on a
// matching secret for a disconnected robot, otherwise a new join subject
// to the started/late-entrants, name-collision, and capacity rules. The
// capacity rule counts live robots only; on a new join every dead robot
// is evicted, with its command queue.
func (m *Match) Join(name, secret string) (rejoined bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingSecret, ok := m.playerSecrets[name]; ok && existingSecret == secret && !m.playerConnected[name] {
		m.playerConnected[name] = true
		if m.eventLog != nil {
			m.eventLog.EmitSimple(eventlog.EventPlayerRejoin, m.ID, name, nil)
		}
		return true, nil
	}

	if m.started && !m.AllowLateEntrants {
		return m.refuse(name, ErrGameStartedLateEntrantsDisallowed)
	}
	for _, r := range m.arena.Robots {
		if r.Name == name {
			return m.refuse(name, ErrAlreadyJoined)
		}
	}
	numAlive := 0
	for _, r := range m.arena.Robots {
		if r.Live() {
			numAlive++
		}
	}
	if numAlive >= m.Params.MaxMatchPlayers {
		return m.refuse(name, ErrMatchFull)
	}
	if len(m.arena.Robots) != numAlive {
		// Range over a copy: RemoveRobot shifts the live slice in place.
		for _, r := range append([]*arena.Robot(nil), m.arena.Robots...) {
			if !r.Live() {
				m.arena.RemoveRobot(r.Name)
				metrics.AdjustCommandQueueDepth(-len(m.commandQueues[r.Name]))
				delete(m.commandQueues, r.Name)
			}
		}
	}

	robot := arena.NewRobot(name, secret, m.rng, m.Params.ArenaWidth, m.Params.ArenaHeight, m.Params.RobotRadius)
	m.arena.AddRobot(robot)
	m.commandQueues[name] = nil
	m.playerSecrets[name] = secret
	m.playerConnected[name] = true
	m.commandTally[name] = make(map[arena.CommandType]int)

	if m.eventLog != nil {
		m.eventLog.EmitSimple(eventlog.EventPlayerJoin, m.ID, name, nil)
	}
	return false, nil
}

// refuse logs a join refusal to the event log (when attached, by the name
// the caller tried to join as, since the robot was never admitted) and
// passes the sentinel error through unchanged.
func (m *Match) refuse(name string, err error) (bool, error) {
	if m.eventLog != nil {
		m.eventLog.EmitSimple(eventlog.EventPlayerRefused, m.ID, name, eventlog.RefusedPayload{Reason: err.Error()})
	}
	return false, err
}

// SetConnected updates the liveness bit a disconnect/reconnect toggles.
func (m *Match) SetConnected(name string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playerConnected[name] = connected
	if !connected && m.eventLog != nil {
		m.eventLog.EmitSimple(eventlog.EventPlayerDisconnect, m.ID, name, nil)
	}
}

// EnqueueCommands appends commands to a robot's inbound queue, capped at
// the arena's remaining sub-tick budget per message (the flow-control
// cap described in the session controller).
func (m *Match) EnqueueCommands(name string, cmds []arena.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.commandQueues[name]; !ok {
		return fmt.Errorf("simulation_invariant: unknown robot %q", name)
	}
	limit := m.arena.Remaining
	if len(cmds) > limit {
		cmds = cmds[:limit]
	}
	m.commandQueues[name] = append(m.commandQueues[name], cmds...)
	metrics.AdjustCommandQueueDepth(len(cmds))
	return nil
}

// GetRobot returns a copy of a robot's current state, safe to serialize
// without holding the match lock.
func (m *Match) GetRobot(name string) (*arena.Robot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, err := m.arena.GetRobot(name)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

// Winner returns the declared winner's name, or nil if the match has not
// finished with a winner yet.
func (m *Match) Winner() *string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arena.Winner
}

// Finished reports whether the match loop has declared a result.
func (m *Match) Finished() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finished
}

// Started reports whether the waiting room has ended.
func (m *Match) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// ConnectedCount returns the number of robots with an open session right
// now, for the registry's cross-match player gauge.
func (m *Match) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, connected := range m.playerConnected {
		if connected {
			n++
		}
	}
	return n
}

// TickSignal returns the channel waiters should block on to be woken at
// the next command tick. It re-arms (a fresh channel replaces the closed
// one) every time it fires, so callers must re-fetch it after each wake.
func (m *Match) TickSignal() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tickCh
}

// DelayLineLen returns the number of snapshots captured so far.
func (m *Match) DelayLineLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.delayLine)
}

// DelayLineAt returns the snapshot at idx. Callers are expected to clamp
// idx themselves using DelayLineLen and Params.DelayTicks, matching the
// spectator replay contract.
func (m *Match) DelayLineAt(idx int) *arena.Arena {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx < 0 || idx >= len(m.delayLine) {
		return nil
	}
	return m.delayLine[idx]
}

func (m *Match) arm() {
	m.mu.Lock()
	close(m.tickCh)
	m.tickCh = make(chan struct{})
	m.mu.Unlock()
}

func (m *Match) appendDelayLine(snapshot *arena.Arena) {
	m.mu.Lock()
	m.delayLine = append(m.delayLine, snapshot)
	m.mu.Unlock()
}

func idleOrders(robots []*arena.Robot) map[string]arena.Command {
	out := make(map[string]arena.Command, len(robots))
	for _, r := range robots {
		out[r.Name] = arena.IdleCommand()
	}
	return out
}

// tallyCommands accumulates one count per robot per command kind actually
// standing this sub-tick, mirroring ApplyCommands' own live-robot/
// default-idle lookup so the tally lines up with what was really applied.
func (m *Match) tallyCommands(standingOrders map[string]arena.Command) {
	for _, r := range m.arena.Robots {
		if !r.Live() {
			continue
		}
		cmd, ok := standingOrders[r.Name]
		if !ok {
			cmd = arena.IdleCommand()
		}
		tally, ok := m.commandTally[r.Name]
		if !ok {
			tally = make(map[arena.CommandType]int)
			m.commandTally[r.Name] = tally
		}
		tally[cmd.Type]++
	}
}

// firingRobots returns the names of robots whose standing order this
// sub-tick is CommandFire, in arena robot order. The fire-demotion in run
// (standing CommandFire orders collapse to idle immediately after their
// first application within a command tick) means this fires at most once
// per robot per command tick.
func firingRobots(standingOrders map[string]arena.Command, robots []*arena.Robot) []string {
	var out []string
	for _, r := range robots {
		if !r.Live() {
			continue
		}
		if cmd, ok := standingOrders[r.Name]; ok && cmd.Type == arena.CommandFire {
			out = append(out, r.Name)
		}
	}
	return out
}

type hitSnapshot struct {
	gotHit bool
	health float64
}

// hitState snapshots GotHit+Health immediately before a sub-tick's Step,
// so newlyHit can detect the false->true transition Step produces on an
// actual collision rather than re-counting a flag Step leaves set across
// the remaining sub-ticks of a command tick.
func hitState(robots []*arena.Robot) map[string]hitSnapshot {
	out := make(map[string]hitSnapshot, len(robots))
	for _, r := range robots {
		out[r.Name] = hitSnapshot{gotHit: r.GotHit, health: r.Health}
	}
	return out
}

type hitResult struct {
	name        string
	healthAfter float64
	energy      float64
}

func newlyHit(before map[string]hitSnapshot, robots []*arena.Robot) []hitResult {
	var out []hitResult
	for _, r := range robots {
		prior, ok := before[r.Name]
		if !ok || prior.gotHit || !r.GotHit {
			continue
		}
		out = append(out, hitResult{name: r.Name, healthAfter: r.Health, energy: prior.health - r.Health})
	}
	return out
}

// run is the match's own goroutine: waiting room, then the command-tick
// loop, then winner declaration. It never runs concurrently with itself.
func (m *Match) run(ctx context.Context) {
	defer close(m.doneChan)

	if !m.waitForPlayers(ctx) {
		return
	}

	m.mu.Lock()
	m.started = true
	standingOrders := idleOrders(m.arena.Robots)
	m.mu.Unlock()

	subTick := time.Second / time.Duration(m.Params.FPS)
	commandTickWait := time.Duration(m.Params.CommandRate) * subTick

	for {
		m.mu.RLock()
		winner := m.arena.GetWinner()
		remaining := m.arena.Remaining
		m.mu.RUnlock()
		if winner != nil || remaining <= 0 {
			break
		}

		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		m.mu.Lock()
		m.arena.Remaining--
		remaining = m.arena.Remaining
		isCommandTick := remaining%m.Params.CommandRate == 0
		if isCommandTick {
			standingOrders = idleOrders(m.arena.Robots)
			for _, r := range m.arena.Robots {
				r.CmdQLen = len(m.commandQueues[r.Name])
			}
		}
		m.mu.Unlock()

		if isCommandTick {
			m.arm()

			select {
			case <-m.stopChan:
				return
			case <-ctx.Done():
				return
			case <-time.After(commandTickWait):
			}

			m.mu.Lock()
			m.rngSeed = m.rng.Int63()
			m.rng.Seed(m.rngSeed)
			for _, r := range m.arena.Robots {
				q := m.commandQueues[r.Name]
				if len(q) > 0 {
					standingOrders[r.Name] = q[0]
					m.commandQueues[r.Name] = q[1:]
					metrics.AdjustCommandQueueDepth(-1)
				} else {
					standingOrders[r.Name] = arena.IdleCommand()
				}
			}
			m.mu.Unlock()

			if m.eventLog != nil {
				m.eventLog.EmitSimple(eventlog.EventTick, m.ID, "", eventlog.TickPayload{
					RNGSeed:    m.rngSeed,
					RobotCount: len(m.arena.Robots),
					Remaining:  remaining,
				})
			}
		}

		m.mu.Lock()
		firing := firingRobots(standingOrders, m.arena.Robots)
		m.tallyCommands(standingOrders)
		m.arena.ApplyCommands(standingOrders, m.rng)
		if isCommandTick {
			m.arena.ResetFlags()
			for name, cmd := range standingOrders {
				if cmd.Type == arena.CommandFire {
					standingOrders[name] = arena.IdleCommand()
				}
			}
		}
		preHit := hitState(m.arena.Robots)
		stepStart := time.Now()
		m.arena.Step()
		metrics.RecordTick(time.Since(stepStart))
		hits := newlyHit(preHit, m.arena.Robots)
		snapshot := m.arena.Clone()
		m.mu.Unlock()

		if m.eventLog != nil {
			for _, name := range firing {
				m.eventLog.EmitSimple(eventlog.EventFire, m.ID, name, nil)
			}
			for _, h := range hits {
				m.eventLog.EmitSimple(eventlog.EventHit, m.ID, h.name, eventlog.HitPayload{
					Energy:      h.energy,
					HealthAfter: h.healthAfter,
				})
			}
		}

		m.appendDelayLine(snapshot)
	}

	m.declareWinner()
}

func (m *Match) waitForPlayers(ctx context.Context) (proceed bool) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		m.mu.RLock()
		n := len(m.arena.Robots)
		m.mu.RUnlock()
		if n >= m.MinNumPlayers {
			break
		}
		select {
		case <-m.stopChan:
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}

	select {
	case <-m.stopChan:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(m.WaitTime):
	}
	return true
}

func (m *Match) declareWinner() {
	m.mu.Lock()
	winner := m.arena.GetWinner()
	if winner == nil {
		var best *arena.Robot
		for _, r := range m.arena.Robots {
			if best == nil || r.Health > best.Health {
				best = r
			}
		}
		winner = best
	}
	var winnerName string
	if winner != nil {
		winnerName = winner.Name
		m.arena.Winner = &winnerName
	}
	snapshot := m.arena.Clone()
	ticks := m.Params.InitialRemaining - m.arena.Remaining
	m.finished = true
	m.mu.Unlock()

	m.appendDelayLine(snapshot)
	m.arm()

	if m.eventLog != nil {
		m.eventLog.EmitSimple(eventlog.EventMatchFinished, m.ID, winnerName, eventlog.MatchFinishedPayload{
			Winner: winnerName,
			Ticks:  ticks,
		})
	}
	m.recordResult(winnerName)
}

// recordResult builds one CommandStat per robot per command kind actually
// applied over the match, from the running tally kept in run's
// tallyCommands, per original_source/battle/persistence.py's
// store_match_cmd_stat.
func (m *Match) recordResult(winner string) {
	if m.sink == nil {
		return
	}
	m.mu.RLock()
	stats := make([]storage.CommandStat, 0, len(m.commandTally))
	for _, r := range m.arena.Robots {
		tally := m.commandTally[r.Name]
		for cmdType, total := range tally {
			stats = append(stats, storage.CommandStat{
				RobotName: r.Name,
				Command:   cmdType.String(),
				Total:     total,
			})
		}
	}
	m.mu.RUnlock()

	outcome := storage.MatchOutcome{
		MatchID:      m.ID,
		EndTime:      time.Now(),
		Winner:       winner,
		CommandStats: stats,
	}
	_ = m.sink.RecordMatch(context.Background(), outcome)
}
