// Package arena implements the robot-battle simulation: geometry, the
// robot/missile/command entity model, and the per-sub-tick arena step
// (command application, physics, missile ballistics, collision
// resolution, radar sweep, and winner adjudication).
package arena

import (
	"fmt"
	"math"
	"math/rand"

	"robot-battle/internal/config"
)

// ErrBadCommand is returned when a command carries an unknown kind or a
// non-finite parameter.
type ErrBadCommand struct {
	Reason string
}

func (e *ErrBadCommand) Error() string {
	return fmt.Sprintf("bad_command: %s", e.Reason)
}

// ErrUnknownRobot is returned by GetRobot when no robot with the given
// name exists in the arena.
type ErrUnknownRobot struct {
	Name string
}

func (e *ErrUnknownRobot) Error() string {
	return fmt.Sprintf("simulation_invariant: unknown robot %q", e.Name)
}

// Arena is the battle arena: an ordered list of robots, an ordered list
// of missiles, a sub-tick budget, and an optional winner. It is owned
// exclusively by one match and must not be mutated concurrently.
type Arena struct {
	Robots    []*Robot  `json:"robots"`
	Missiles  []*Missile `json:"missiles"`
	Winner    *string   `json:"winner"`
	Remaining int       `json:"remaining"`

	params config.GameParameters

	// priorRadarAngle is private per-match radar memory: the previous
	// combined radar bearing for each robot, used to compute the sweep
	// arc between ticks.
	priorRadarAngle map[string]float64
}

// NewArena returns an empty arena ready for robots to join.
func NewArena(params config.GameParameters) *Arena {
	return &Arena{
		Remaining:       params.InitialRemaining,
		params:          params,
		priorRadarAngle: make(map[string]float64),
	}
}

// Clone returns a deep copy of the arena suitable for appending to a
// delay-line: robots and missiles are copied by value so later mutation
// of the live arena never reaches a captured snapshot.
func (a *Arena) Clone() *Arena {
	robots := make([]*Robot, len(a.Robots))
	for i, r := range a.Robots {
		cp := *r
		robots[i] = &cp
	}
	missiles := make([]*Missile, len(a.Missiles))
	for i, m := range a.Missiles {
		cp := *m
		missiles[i] = &cp
	}
	var winner *string
	if a.Winner != nil {
		w := *a.Winner
		winner = &w
	}
	return &Arena{
		Robots:    robots,
		Missiles:  missiles,
		Winner:    winner,
		Remaining: a.Remaining,
		params:    a.params,
		// priorRadarAngle is step-local working state, not part of the
		// observable snapshot; clones never advance, so it is left nil.
	}
}

// GetRobot looks up a robot by name.
func (a *Arena) GetRobot(name string) (*Robot, error) {
	for _, r := range a.Robots {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, &ErrUnknownRobot{Name: name}
}

// AddRobot appends a new robot to the arena.
func (a *Arena) AddRobot(r *Robot) {
	a.Robots = append(a.Robots, r)
}

// RemoveRobot drops a robot by name, e.g. to free a slot for a new joiner.
func (a *Arena) RemoveRobot(name string) {
	for i, r := range a.Robots {
		if r.Name == name {
			a.Robots = append(a.Robots[:i], a.Robots[i+1:]...)
			return
		}
	}
}

// ValidateCommand rejects unknown command kinds or non-finite parameters.
func ValidateCommand(c Command) error {
	if !c.Type.Valid() {
		return &ErrBadCommand{Reason: fmt.Sprintf("unknown command_type %d", int(c.Type))}
	}
	if math.IsNaN(c.Parameter) || math.IsInf(c.Parameter, 0) {
		return &ErrBadCommand{Reason: "non-finite parameter"}
	}
	return nil
}

// ApplyCommand mutates robot and the arena according to a single command.
// Angle increments are taken modulo 360; parameters are scaled by
// COMMAND_RATE so the per-sub-tick effect of a command-tick-rate input is
// uniform across sub-ticks.
func (a *Arena) ApplyCommand(r *Robot, cmd Command, rng *rand.Rand) {
	p := a.params
	switch cmd.Type {
	case CommandAccelerate:
		vx := r.Velocity * math.Cos(r.VelocityAngle/180*math.Pi)
		vy := r.Velocity * math.Sin(r.VelocityAngle/180*math.Pi)
		dx := p.MotorPower / float64(p.CommandRate) * math.Cos(r.HullAngle/180*math.Pi)
		dy := p.MotorPower / float64(p.CommandRate) * math.Sin(r.HullAngle/180*math.Pi)
		r.Velocity = math.Sqrt((vx+dx)*(vx+dx) + (vy+dy)*(vy+dy))
		r.VelocityAngle = math.Atan2(vy+dy, vx+dx) / math.Pi * 180
		r.Velocity = math.Min(p.MaxVelocity, r.Velocity)
		if r.AccelerateProgress == nil {
			zero := 0
			r.AccelerateProgress = &zero
		}
	case CommandFire:
		energyNoise := (rng.Float64()*2 - 1) * p.WeaponRechargeRate
		requested := clampFloat(cmd.Parameter, 0, p.MaxDamage)
		energy := math.Min(r.WeaponEnergy, requested) + energyNoise
		energy = math.Max(0, energy)
		angle := normalizeAngle(r.HullAngle + r.TurretAngle)
		r.WeaponEnergy = math.Max(0, r.WeaponEnergy-energy)
		start := Position{
			X: r.Position.X + 1.01*r.Radius*math.Cos(angle/180*math.Pi),
			Y: r.Position.Y + 1.01*r.Radius*math.Sin(angle/180*math.Pi),
		}
		a.Missiles = append(a.Missiles, &Missile{Position: start, Angle: angle, Energy: energy})
		if r.FiringProgress == nil {
			zero := 0
			r.FiringProgress = &zero
		}
	case CommandTurnHull:
		r.HullAngle = normalizeAngle(r.HullAngle + clampFloat(cmd.Parameter/float64(p.CommandRate), -p.MaxTurnAngle, p.MaxTurnAngle))
		if r.AccelerateProgress == nil {
			zero := 0
			r.AccelerateProgress = &zero
		}
	case CommandTurnTurret:
		r.TurretAngle = normalizeAngle(r.TurretAngle + cmd.Parameter/float64(p.CommandRate))
	case CommandTurnRadar:
		r.RadarAngle = normalizeAngle(r.RadarAngle + clampFloat(cmd.Parameter/float64(p.CommandRate), -p.MaxTurnRadarAngle, p.MaxTurnRadarAngle))
	case CommandIdle:
		// no-op
	}
}

// ApplyCommands applies one command per live robot, keyed by name. A
// missing entry is treated as IDLE.
func (a *Arena) ApplyCommands(commands map[string]Command, rng *rand.Rand) {
	for _, r := range a.Robots {
		if !r.Live() {
			continue
		}
		cmd, ok := commands[r.Name]
		if !ok {
			cmd = IdleCommand()
		}
		a.ApplyCommand(r, cmd, rng)
	}
}

// updateRobotState advances one live robot's physics by one sub-tick.
func (a *Arena) updateRobotState(r *Robot) {
	p := a.params
	r.Position.X += (r.Velocity / float64(p.CommandRate)) * math.Cos(r.VelocityAngle/180*math.Pi)
	r.Position.Y += (r.Velocity / float64(p.CommandRate)) * math.Sin(r.VelocityAngle/180*math.Pi)
	if r.Position.Clip(p.ArenaWidth, p.ArenaHeight, r.Radius) {
		r.BumpedWall = true
	}

	r.WeaponEnergy += p.WeaponRechargeRate / float64(p.CommandRate)
	r.WeaponEnergy = math.Min(p.MaxDamage, r.WeaponEnergy)

	if r.FiringProgress != nil {
		*r.FiringProgress++
		if *r.FiringProgress >= p.FiringFrames {
			r.FiringProgress = nil
		}
	}
	if r.AccelerateProgress != nil {
		*r.AccelerateProgress++
		if *r.AccelerateProgress >= p.ExhaustFrames {
			r.AccelerateProgress = nil
		}
	}
}

// updateMissile advances one missile by one sub-tick.
func (a *Arena) updateMissile(m *Missile) {
	p := a.params
	if m.Exploding {
		m.ExplodeProgress++
		return
	}
	v := p.BulletVelocity / float64(p.CommandRate)
	m.Position.X += v * math.Cos(m.Angle/180*math.Pi)
	m.Position.Y += v * math.Sin(m.Angle/180*math.Pi)
	m.Position.Clip(p.ArenaWidth, p.ArenaHeight, 0)
}

// ResetFlags clears the per-tick observables on all live robots. Called
// once per command tick, after that tick's commands are applied and
// before its first Step.
func (a *Arena) ResetFlags() {
	for _, r := range a.Robots {
		if !r.Live() {
			continue
		}
		r.GotHit = false
		r.RadarPing = nil
		r.BumpedWall = false
	}
}

// UpdateRadars performs one radar-sweep sub-tick for every live robot.
func (a *Arena) UpdateRadars() {
	for _, r := range a.Robots {
		if !r.Live() {
			continue
		}
		base := a.priorRadarAngle[r.Name]
		for _, t := range a.Robots {
			if t == r || !t.Live() {
				continue
			}
			targetAngle := wrapSigned(t.Position.Sub(r.Position).Angle(), base)
			nowAngle := wrapSigned(r.HullAngle+r.TurretAngle+r.RadarAngle, base)
			if (nowAngle > 0 && targetAngle > 0 && nowAngle > targetAngle) ||
				(nowAngle < 0 && targetAngle < 0 && nowAngle < targetAngle) {
				dist := t.Position.Sub(r.Position).Magnitude()
				r.RadarPing = &dist
				break
			}
		}
		a.priorRadarAngle[r.Name] = r.HullAngle + r.TurretAngle + r.RadarAngle
	}
}

// Step advances the arena by one sub-tick: robot physics, missile
// ballistics, collision resolution, then radar.
func (a *Arena) Step() {
	p := a.params

	for _, r := range a.Robots {
		if !r.Live() {
			r.Velocity = 0
			continue
		}
		a.updateRobotState(r)
	}

	for _, m := range a.Missiles {
		a.updateMissile(m)
	}

	for _, m := range a.Missiles {
		for _, r := range a.Robots {
			if !r.Live() {
				continue
			}
			if r.Position.Sub(m.Position).Magnitude() < r.Radius {
				if !m.Exploding {
					r.Health -= m.Energy
					m.Exploding = true
					r.GotHit = true
				}
				break
			}
		}
		if m.Position.X <= 0 || m.Position.X >= p.ArenaWidth || m.Position.Y <= 0 || m.Position.Y >= p.ArenaHeight {
			m.Exploding = true
			m.ExplodeProgress = p.ExplodeFrames
		}
	}

	live := a.Missiles[:0]
	for _, m := range a.Missiles {
		if m.Live(p.ExplodeFrames) {
			live = append(live, m)
		}
	}
	a.Missiles = live

	a.UpdateRadars()
}

// GetWinner returns the winning robot, or nil if the match has no winner
// yet (more than one robot still live, or fewer than two robots total).
func (a *Arena) GetWinner() *Robot {
	if len(a.Robots) <= 1 {
		return nil
	}
	var remaining []*Robot
	for _, r := range a.Robots {
		if r.Live() {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 1 {
		return remaining[0]
	}
	if len(remaining) == 0 {
		best := a.Robots[0]
		for _, r := range a.Robots[1:] {
			if r.Health > best.Health {
				best = r
			}
		}
		return best
	}
	return nil
}
