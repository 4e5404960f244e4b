package motor

import (
	"testing"
	"time"

	"github.com/celskeggs/scanmx/sim/component"
)

func TestMotorTravelsAtVelocity(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1)
	m := Config{PV: "sim:m1", Velocity: 2}.Construct(sim)
	events := 0
	m.Subscribe(func() { events++ })

	m.MoveTo(10)
	if !m.Moving() {
		t.Fatal("motor should be moving")
	}
	sim.AdvanceBy(time.Second)
	if p := m.CurrentPosition(); p != 2 {
		t.Errorf("expected position 2 after one second, got %v", p)
	}
	sim.AdvanceBy(10 * time.Second)
	if m.Moving() || m.CurrentPosition() != 10 {
		t.Errorf("expected to settle at 10, moving=%v pos=%v", m.Moving(), m.CurrentPosition())
	}
	if events != 2 {
		t.Errorf("expected start and arrival events, got %d", events)
	}
}

func TestMotorStopFreezes(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1)
	m := Config{PV: "sim:m1", Velocity: 1}.Construct(sim)
	m.MoveTo(-10)
	sim.AdvanceBy(3 * time.Second)
	m.Stop()
	sim.AdvanceBy(time.Minute)
	if m.Moving() || m.CurrentPosition() != -3 {
		t.Errorf("expected to stop at -3, moving=%v pos=%v", m.Moving(), m.CurrentPosition())
	}
}

func TestMotorHitsLimit(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1)
	m := Config{PV: "sim:m1", LowLimit: -1, HighLimit: 1}.Construct(sim)
	m.MoveTo(5)
	sim.AdvanceBy(time.Millisecond)
	if !m.HighLimitActive() || m.LowLimitActive() {
		t.Errorf("expected high limit only, got low=%v high=%v", m.LowLimitActive(), m.HighLimitActive())
	}
	if m.CurrentPosition() != 1 {
		t.Errorf("expected to rest on the limit, got %v", m.CurrentPosition())
	}
	m.MoveTo(0)
	sim.AdvanceBy(time.Millisecond)
	if m.HighLimitActive() {
		t.Error("limit should clear after moving off it")
	}
}

func TestDisconnectedMotorIgnoresMoves(t *testing.T) {
	sim := component.MakeSimControllerSeeded(1)
	m := Config{PV: "sim:m1", Position: 4, Disconnected: true}.Construct(sim)
	m.MoveTo(8)
	if m.Moving() || m.Moves() != 0 {
		t.Error("disconnected motor should not move")
	}
}
