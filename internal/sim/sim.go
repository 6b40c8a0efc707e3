// Package sim is a small deterministic world of moving bodies that push each
// other apart. The server and every client step it with the same inputs.
package sim

import (
	"context"
	"math"
	"sort"

	"rewind/internal/entity"
	"rewind/internal/input"
	"rewind/internal/prediction"
	"rewind/internal/tick"
)

const (
	KindPosition entity.Kind = "position"
	KindVelocity entity.Kind = "velocity"
	// KindSpeed is written by the server only. Clients interpolate it.
	KindSpeed entity.Kind = "speed"
)

// Input is one tick of player intent. Axes are clamped to [-1, 1].
type Input struct {
	MoveX int8 `json:"mx,omitempty"`
	MoveY int8 `json:"my,omitempty"`
	Boost bool `json:"boost,omitempty"`
}

func (in Input) direction() Vec {
	dir := Vec{X: float64(clampAxis(in.MoveX)), Y: float64(clampAxis(in.MoveY))}
	if l := dir.Len(); l > 1 {
		dir = dir.Scale(1 / l)
	}
	return dir
}

func clampAxis(v int8) int8 {
	return max(-1, min(1, v))
}

// Config holds the movement constants in world units per tick.
type Config struct {
	Accel       float64 `yaml:"accel" json:"accel"`
	MaxSpeed    float64 `yaml:"max_speed" json:"max_speed"`
	BoostFactor float64 `yaml:"boost_factor" json:"boost_factor"`
	Friction    float64 `yaml:"friction" json:"friction"`
	Radius      float64 `yaml:"radius" json:"radius"`
	Width       float64 `yaml:"width" json:"width"`
	Height      float64 `yaml:"height" json:"height"`
	Epsilon     float64 `yaml:"epsilon" json:"epsilon"`
}

func DefaultConfig() Config {
	return Config{
		Accel:       0.6,
		MaxSpeed:    4,
		BoostFactor: 1.5,
		Friction:    0.85,
		Radius:      12,
		Width:       800,
		Height:      600,
		Epsilon:     0.01,
	}
}

// World binds the demo's predicted tables. Speed is nil on clients.
type World struct {
	cfg      Config
	Position *prediction.Table[Vec]
	Velocity *prediction.Table[Vec]
	Speed    *prediction.Table[float64]
}

// New registers the position and velocity tables on w.
func New(w *prediction.World, cfg Config) *World {
	funcs := prediction.FieldFuncs[Vec]{ShouldRollback: Within(cfg.Epsilon), Lerp: LerpVec}
	return &World{
		cfg:      cfg,
		Position: prediction.Register(w, KindPosition, funcs),
		Velocity: prediction.Register(w, KindVelocity, funcs),
	}
}

// NewAuthority is New plus the server-only speed table.
func NewAuthority(w *prediction.World, cfg Config) *World {
	s := New(w, cfg)
	s.Speed = prediction.Register(w, KindSpeed, prediction.FieldFuncs[float64]{
		ShouldRollback: prediction.Epsilon(cfg.Epsilon),
		Lerp:           prediction.LerpFloat,
	})
	return s
}

func (s *World) Config() Config {
	return s.cfg
}

// Spawn places a body at rest.
func (s *World) Spawn(id entity.ID, at Vec) {
	s.Position.Spawn(id, at)
	s.Velocity.Spawn(id, Vec{})
	if s.Speed != nil {
		s.Speed.Spawn(id, 0)
	}
}

// SpawnPlayer places a body for id at its spawn point.
func (s *World) SpawnPlayer(id entity.ID) {
	s.Spawn(id, s.SpawnPoint(id))
}

func (s *World) Despawn(id entity.ID) {
	s.Position.Despawn(id)
	s.Velocity.Despawn(id)
	if s.Speed != nil {
		s.Speed.Despawn(id)
	}
}

// SpawnPoint returns a deterministic starting position for id.
func (s *World) SpawnPoint(id entity.ID) Vec {
	cols := max(1, int(s.cfg.Width/(s.cfg.Radius*4)))
	n := int(id)
	return Vec{
		X: s.cfg.Radius*2 + float64(n%cols)*s.cfg.Radius*4,
		Y: s.cfg.Radius*2 + float64((n/cols)%max(1, int(s.cfg.Height/(s.cfg.Radius*4))))*s.cfg.Radius*4,
	}
}

// Step advances every body by one tick. Bodies are visited in ascending id
// order so identical inputs produce identical results on every peer.
func (s *World) Step(ctx context.Context, t tick.Tick, inputs input.Provider[Input]) {
	ids := s.Position.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		pos, _ := s.Position.Value(id)
		vel, _ := s.Velocity.Value(id)
		in, _ := inputs.Input(ctx, id, t)

		accel := s.cfg.Accel
		limit := s.cfg.MaxSpeed
		if in.Boost {
			accel *= s.cfg.BoostFactor
			limit *= s.cfg.BoostFactor
		}
		vel = vel.Scale(s.cfg.Friction).Add(in.direction().Scale(accel))
		if speed := vel.Len(); speed > limit {
			vel = vel.Scale(limit / speed)
		}
		pos, vel = s.bounce(pos.Add(vel), vel)
		s.Position.Set(id, pos)
		s.Velocity.Set(id, vel)
		if s.Speed != nil {
			s.Speed.Set(id, vel.Len())
		}
	}
	s.separate(ids)
}

func (s *World) bounce(pos, vel Vec) (Vec, Vec) {
	r := s.cfg.Radius
	if pos.X < r {
		pos.X, vel.X = r, math.Abs(vel.X)
	} else if pos.X > s.cfg.Width-r {
		pos.X, vel.X = s.cfg.Width-r, -math.Abs(vel.X)
	}
	if pos.Y < r {
		pos.Y, vel.Y = r, math.Abs(vel.Y)
	} else if pos.Y > s.cfg.Height-r {
		pos.Y, vel.Y = s.cfg.Height-r, -math.Abs(vel.Y)
	}
	return pos, vel
}

// separate pushes overlapping bodies apart, each taking half the overlap.
func (s *World) separate(ids []entity.ID) {
	minDist := s.cfg.Radius * 2
	for i := 0; i < len(ids); i++ {
		a, _ := s.Position.Value(ids[i])
		for j := i + 1; j < len(ids); j++ {
			b, _ := s.Position.Value(ids[j])
			d := b.Sub(a)
			dist := d.Len()
			if dist >= minDist {
				continue
			}
			normal := Vec{X: 1}
			if dist > 0 {
				normal = d.Scale(1 / dist)
			}
			push := normal.Scale((minDist - dist) / 2)
			a = a.Sub(push)
			b = b.Add(push)
			s.Position.Set(ids[j], b)
		}
		s.Position.Set(ids[i], a)
	}
}
