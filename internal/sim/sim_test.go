package sim

import (
	"context"
	"testing"

	"rewind/internal/entity"
	"rewind/internal/input"
	"rewind/internal/prediction"
	"rewind/internal/tick"
)

type fixedInputs map[entity.ID]Input

func (f fixedInputs) Input(_ context.Context, id entity.ID, _ tick.Tick) (Input, input.Source) {
	in, ok := f[id]
	if !ok {
		return Input{}, input.SourceEmpty
	}
	return in, input.SourceExact
}

func TestStepIsDeterministic(t *testing.T) {
	run := func() []Vec {
		world := prediction.NewWorld(prediction.ModeAuthority, 0, prediction.DefaultConfig())
		demo := New(world, DefaultConfig())
		replayer := input.NewReplayer(input.DefaultConfig(), Input{}, nil, nil)
		for id := entity.ID(1); id <= 4; id++ {
			demo.Spawn(id, demo.SpawnPoint(id))
		}
		ctx := context.Background()
		for step := 1; step <= 120; step++ {
			current := tick.Tick(step)
			for id := entity.ID(1); id <= 4; id++ {
				replayer.Record(id, current, Input{MoveX: int8(step%3) - 1, MoveY: int8((step+int(id))%3) - 1, Boost: step%7 == 0})
			}
			world.SetTick(current)
			demo.Step(ctx, current, replayer)
		}
		var out []Vec
		for id := entity.ID(1); id <= 4; id++ {
			pos, _ := demo.Position.Value(id)
			out = append(out, pos)
		}
		return out
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("body %d diverged: %+v vs %+v", i+1, first[i], second[i])
		}
	}
}

func TestBodiesStayInsideBounds(t *testing.T) {
	cfg := DefaultConfig()
	world := prediction.NewWorld(prediction.ModeAuthority, 0, prediction.DefaultConfig())
	demo := New(world, cfg)
	demo.Spawn(1, Vec{X: cfg.Radius, Y: cfg.Radius})
	inputs := fixedInputs{1: {MoveX: -1, MoveY: -1, Boost: true}}
	for step := 1; step <= 30; step++ {
		demo.Step(context.Background(), tick.Tick(step), inputs)
	}
	pos, _ := demo.Position.Value(1)
	if pos.X < cfg.Radius || pos.Y < cfg.Radius {
		t.Fatalf("expected body clamped inside bounds, got %+v", pos)
	}
}

func TestOverlappingBodiesSeparate(t *testing.T) {
	cfg := DefaultConfig()
	world := prediction.NewWorld(prediction.ModeAuthority, 0, prediction.DefaultConfig())
	demo := New(world, cfg)
	demo.Spawn(1, Vec{X: 100, Y: 100})
	demo.Spawn(2, Vec{X: 100, Y: 100})
	demo.Step(context.Background(), 1, fixedInputs{})

	a, _ := demo.Position.Value(1)
	b, _ := demo.Position.Value(2)
	if dist := b.Sub(a).Len(); dist < cfg.Radius*2-1e-9 {
		t.Fatalf("expected bodies pushed %v apart, got %v", cfg.Radius*2, dist)
	}
	if a.X >= b.X {
		t.Fatalf("coincident bodies must separate along +x by id order, got %+v %+v", a, b)
	}
}

func TestInputDirectionIsClamped(t *testing.T) {
	dir := Input{MoveX: 5, MoveY: -9}.direction()
	if l := dir.Len(); l > 1+1e-9 {
		t.Fatalf("expected unit direction, got length %v", l)
	}
}

func TestAuthorityRecordsSpeed(t *testing.T) {
	world := prediction.NewWorld(prediction.ModeAuthority, 0, prediction.DefaultConfig())
	demo := NewAuthority(world, DefaultConfig())
	demo.Spawn(1, Vec{X: 100, Y: 100})
	world.SetTick(1)
	demo.Step(context.Background(), 1, fixedInputs{1: {MoveX: 1}})

	vel, _ := demo.Velocity.Value(1)
	speed, ok := demo.Speed.Value(1)
	if !ok || speed != vel.Len() || speed == 0 {
		t.Fatalf("expected speed %v, got %v ok=%v", vel.Len(), speed, ok)
	}
	demo.Despawn(1)
	if demo.Speed.Has(1) {
		t.Fatalf("despawn must drop the speed field")
	}
	client := prediction.NewWorld(prediction.ModePredicted, 0, prediction.DefaultConfig())
	if New(client, DefaultConfig()).Speed != nil {
		t.Fatalf("clients must not predict speed")
	}
}
