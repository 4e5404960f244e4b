package motor

import (
	"math"
	"time"

	"github.com/celskeggs/scanmx/scan/device"
	"github.com/celskeggs/scanmx/sim/component"
	"github.com/celskeggs/scanmx/sim/model"
)

// Config describes a simulated positioner. Equal low and high limits mean the limit is not configured.
type Config struct {
	PV          string
	Description string
	Position    float64
	// Velocity in user units per second; zero or negative moves instantly.
	Velocity  float64
	LowLimit  float64
	HighLimit float64
	SoftLow   float64
	SoftHigh  float64
	// Jitter is the full width of the uniform error added to every landing position.
	Jitter       float64
	Disconnected bool
}

type Motor struct {
	*component.EventDispatcher
	ctx model.SimContext
	cfg Config

	connected   bool
	origin      float64
	originTime  model.VirtualTime
	destination float64
	moving      bool
	cancelMove  func()
	lowLimit    bool
	highLimit   bool
	moves       int
}

var _ device.Device = &Motor{}
var _ device.Bounded = &Motor{}

func (c Config) Construct(ctx model.SimContext) *Motor {
	return &Motor{
		EventDispatcher: component.MakeEventDispatcher(ctx, "sim.motor.Motor/"+c.PV),
		ctx:             ctx,
		cfg:             c,
		connected:       !c.Disconnected,
		origin:          c.Position,
		originTime:      ctx.Now(),
		destination:     c.Position,
	}
}

func (m *Motor) Identifier() string {
	return m.cfg.PV
}

func (m *Motor) Description() string {
	return m.cfg.Description
}

func (m *Motor) IsConnected() bool {
	return m.connected
}

func (m *Motor) SetConnected(connected bool) {
	if m.connected != connected {
		m.connected = connected
		if !connected {
			m.Stop()
		}
		m.DispatchLater()
	}
}

func (m *Motor) hasHardLimits() bool {
	return m.cfg.LowLimit != m.cfg.HighLimit
}

func (m *Motor) CurrentPosition() float64 {
	if !m.moving || m.cfg.Velocity <= 0 {
		if m.moving {
			return m.destination
		}
		return m.origin
	}
	travelled := m.cfg.Velocity * m.ctx.Now().Since(m.originTime).Seconds()
	remaining := m.destination - m.origin
	if travelled >= math.Abs(remaining) {
		return m.destination
	}
	return m.origin + math.Copysign(travelled, remaining)
}

func (m *Motor) MoveTo(target float64) {
	if !m.connected {
		return
	}
	if m.moving {
		m.freeze()
	}
	dest := target
	if m.cfg.Jitter != 0 {
		dest += (m.ctx.Rand().Float64() - 0.5) * m.cfg.Jitter
	}
	m.lowLimit, m.highLimit = false, false
	if m.hasHardLimits() {
		dest = math.Max(m.cfg.LowLimit, math.Min(m.cfg.HighLimit, dest))
	}
	m.origin = m.CurrentPosition()
	m.originTime = m.ctx.Now()
	m.destination = dest
	m.moving = true
	m.moves++

	var travel time.Duration
	if m.cfg.Velocity > 0 {
		travel = time.Duration(math.Abs(dest-m.origin) / m.cfg.Velocity * float64(time.Second))
	}
	m.cancelMove = m.ctx.SetTimer(m.ctx.Now().Add(travel), "sim.motor.Motor/Arrive", m.arrive)
	m.DispatchLater()
}

func (m *Motor) arrive() {
	m.cancelMove = nil
	m.moving = false
	m.origin = m.destination
	m.originTime = m.ctx.Now()
	m.updateLimits()
	m.DispatchLater()
}

func (m *Motor) updateLimits() {
	if !m.hasHardLimits() {
		return
	}
	m.lowLimit = m.origin <= m.cfg.LowLimit
	m.highLimit = m.origin >= m.cfg.HighLimit
}

func (m *Motor) freeze() {
	m.origin = m.CurrentPosition()
	m.originTime = m.ctx.Now()
	m.destination = m.origin
	m.moving = false
	if m.cancelMove != nil {
		m.cancelMove()
		m.cancelMove = nil
	}
	m.updateLimits()
}

func (m *Motor) Stop() {
	if m.moving {
		m.freeze()
		m.DispatchLater()
	}
}

func (m *Motor) Moving() bool {
	return m.moving
}

func (m *Motor) LowLimitActive() bool {
	return m.lowLimit
}

func (m *Motor) HighLimitActive() bool {
	return m.highLimit
}

func (m *Motor) SoftLimits() (low, high float64) {
	return m.cfg.SoftLow, m.cfg.SoftHigh
}

// Moves counts the MoveTo calls accepted so far.
func (m *Motor) Moves() int {
	return m.moves
}
