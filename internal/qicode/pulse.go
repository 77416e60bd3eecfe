package qicode

import (
	"fmt"
	"math"
	"strings"

	"github.com/quantuminterface/qicode/internal/units"
)

// Shape is a pulse envelope defined on the unit interval [0, 1). Shapes
// outside the library compare unequal even when they sample identically.
type Shape struct {
	name string
	fn   func(x float64) float64
}

// Name returns the shape's library name.
func (s *Shape) Name() string { return s.name }

// At samples the envelope, zero outside [0, 1).
func (s *Shape) At(x float64) float64 {
	if x < 0 || x >= 1 {
		return 0
	}
	return s.fn(x)
}

func (s *Shape) String() string {
	return fmt.Sprintf("Shape(%s)", s.name)
}

// The shape library. ShapeRect is the default for every pulse.
var (
	ShapeZero = &Shape{name: "", fn: func(float64) float64 { return 0 }}
	ShapeRect = &Shape{name: "rect", fn: func(float64) float64 { return 1 }}

	ShapeGauss = &Shape{name: "gauss", fn: func(x float64) float64 {
		return math.Exp(-0.5 * math.Pow((x-0.5)/0.166, 2))
	}}
	ShapeRamp   = &Shape{name: "ramp", fn: func(x float64) float64 { return x }}
	ShapeSqrFct = &Shape{name: "sqrfct", fn: func(x float64) float64 { return x * x }}

	ShapeLSphere = &Shape{name: "l_sphere", fn: func(x float64) float64 {
		return math.Sqrt(1 - x*x)
	}}
	ShapeRSphere = &Shape{name: "r_sphere", fn: func(x float64) float64 {
		return math.Sqrt(1 - (x-1)*(x-1))
	}}
	ShapeGaussUp = &Shape{name: "gauss_up", fn: func(x float64) float64 {
		return math.Exp(-0.5 * math.Pow((x-1)/2/0.166, 2))
	}}
	ShapeGaussDown = &Shape{name: "gauss_down", fn: func(x float64) float64 {
		return math.Exp(-0.5 * math.Pow(x/2/0.166, 2))
	}}
)

// ShapeByName resolves a library shape from its name. Used by loaders that
// read pulse descriptions from files.
func ShapeByName(name string) (*Shape, bool) {
	for _, s := range []*Shape{
		ShapeZero, ShapeRect, ShapeGauss, ShapeRamp, ShapeSqrFct,
		ShapeLSphere, ShapeRSphere, ShapeGaussUp, ShapeGaussDown,
	} {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// Pulse mode names.
const (
	pulseModeNormal = "normal"
	pulseModeCW     = "cw"
	pulseModeOff    = "off"
)

// Pulse describes one envelope played by a pulse generator: a length, a
// shape, and amplitude, phase and frequency settings. Length and amplitude
// may be variables; a variable length holds the output until the next
// trigger on the same module.
type Pulse struct {
	mode      string
	shape     *Shape
	length    Expression
	amplitude Expression
	phase     Expression
	frequency Expression

	hold       bool
	shiftPhase bool

	ampSet   bool
	phaseSet bool

	err error
}

// PulseOption adjusts a pulse under construction.
type PulseOption func(*Pulse)

// WithShape selects the envelope shape, ShapeRect when not given.
func WithShape(s *Shape) PulseOption {
	return func(p *Pulse) { p.shape = s }
}

// WithAmplitude sets the amplitude relative to full scale. Accepts a
// number, a variable or an expression.
func WithAmplitude(a any) PulseOption {
	return func(p *Pulse) {
		p.amplitude = toExpression(a)
		p.ampSet = true
	}
}

// WithPhase sets the pulse phase in radians.
func WithPhase(phase any) PulseOption {
	return func(p *Pulse) {
		p.phase = toExpression(phase)
		p.phaseSet = true
	}
}

// WithFrequency sets the oscillator frequency in Hz. Without it the cell's
// default for the pulse family applies.
func WithFrequency(f any) PulseOption {
	return func(p *Pulse) { p.frequency = toExpression(f) }
}

// WithHold keeps the final envelope value on the output after the pulse
// ends instead of returning to zero.
func WithHold() PulseOption {
	return func(p *Pulse) { p.hold = true }
}

// NewPulse builds a pulse of the given length in seconds. The length may
// also be a variable or a cell property.
func NewPulse(length any, opts ...PulseOption) *Pulse {
	p := &Pulse{mode: pulseModeNormal, shape: ShapeRect}
	for _, o := range opts {
		o(p)
	}
	p.finish(length)
	return p
}

// ContinuousPulse builds a pulse that plays until explicitly turned off
// with PulseOff.
func ContinuousPulse(opts ...PulseOption) *Pulse {
	p := &Pulse{mode: pulseModeCW, shape: ShapeRect, hold: true}
	for _, o := range opts {
		o(p)
	}
	p.finish(units.ControllerCycleTime)
	return p
}

// PulseOff ends a continuous pulse.
func PulseOff() *Pulse {
	p := &Pulse{mode: pulseModeOff, shape: ShapeRect}
	p.amplitude = newIntConstant(0)
	p.ampSet = true
	p.finish(units.ControllerCycleTime)
	return p
}

func (p *Pulse) finish(length any) {
	if p.amplitude == nil {
		p.amplitude = newFloatConstant(1.0)
	}
	if p.phase == nil {
		p.phase = newFloatConstant(0.0)
	}

	p.length = toExpression(length)
	p.err = firstErr(exprErr(p.length), exprErr(p.amplitude), exprErr(p.phase), exprErr(p.frequency))

	p.setTypes()

	if _, isVar := p.length.(*Variable); isVar && p.shape != ShapeRect {
		p.fail(newError(CodeInvalidPulse, "variable pulse lengths need a rectangular shape"))
	}
	if c, isConst := p.length.(*Constant); isConst {
		if cycles := c.Cycles(); cycles >= 1<<32 {
			p.fail(newError(CodeInvalidPulse, "pulse length exceeds the possible wait time, %d cycles", cycles))
		}
	}
}

func (p *Pulse) setTypes() {
	record := func(err error) {
		if err != nil && p.err == nil {
			p.err = err
		}
	}
	record(p.length.typeInfo().setType(TypeTime, usePulseLength))
	record(p.amplitude.typeInfo().setType(TypeAmplitude, usePulseAmplitude))
	record(p.phase.typeInfo().setType(TypePhase, usePulsePhase))
	if p.frequency != nil {
		record(p.frequency.typeInfo().setType(TypeFrequency, usePulseFrequency))
	}
}

func (p *Pulse) fail(err *Error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *Pulse) buildErr() error { return p.err }

// Length returns the pulse length expression.
func (p *Pulse) Length() Expression { return p.length }

// Amplitude returns the amplitude expression.
func (p *Pulse) Amplitude() Expression { return p.amplitude }

// Phase returns the phase expression.
func (p *Pulse) Phase() Expression { return p.phase }

// Frequency returns the frequency expression, nil when the cell default
// applies.
func (p *Pulse) Frequency() Expression { return p.frequency }

// Shape returns the envelope shape.
func (p *Pulse) Shape() *Shape { return p.shape }

// Hold reports whether the output stays at the final envelope value after
// the pulse.
func (p *Pulse) Hold() bool { return p.hold }

// ShiftsPhase reports whether the pulse only advances the oscillator
// phase, without playing an envelope.
func (p *Pulse) ShiftsPhase() bool { return p.shiftPhase }

// IsVariableLength reports whether the length is a runtime variable.
func (p *Pulse) IsVariableLength() bool {
	_, ok := p.length.(*Variable)
	return ok
}

// Variables lists the runtime variables controlling the pulse.
func (p *Pulse) Variables() []*Variable {
	if v, ok := p.length.(*Variable); ok {
		return []*Variable{v}
	}
	return nil
}

// Equal reports whether two pulses configure the hardware identically, so
// one table entry can serve both.
func (p *Pulse) Equal(o *Pulse) bool {
	if o == nil {
		return false
	}
	sameLength := (p.IsVariableLength() && o.IsVariableLength()) || p.length.EqualSyntax(o.length)
	if !sameLength {
		return false
	}
	if _, varAmp := p.amplitude.(*Variable); varAmp {
		return false
	}
	if _, varAmp := o.amplitude.(*Variable); varAmp {
		return false
	}
	if !p.amplitude.EqualSyntax(o.amplitude) {
		return false
	}
	if p.hold != o.hold || p.shape != o.shape || p.shiftPhase != o.shiftPhase {
		return false
	}
	if !p.phase.EqualSyntax(o.phase) {
		return false
	}
	if p.frequency == nil || o.frequency == nil {
		return p.frequency == nil && o.frequency == nil
	}
	return p.frequency.EqualSyntax(o.frequency)
}

// Envelope samples the pulse at the given sample rate. A variable-length
// pulse yields one cycle of samples, since the hardware holds it until
// ended. Pulses shorter than half a sample period collapse to nothing.
func (p *Pulse) Envelope(sampleRate float64) ([]float64, error) {
	var length float64
	switch l := p.length.(type) {
	case *Variable:
		amp := p.constantAmplitude()
		out := make([]float64, units.ControllerSamplesPerCycle)
		for i := range out {
			out[i] = amp
		}
		return out, nil
	case *CellProperty:
		v, err := l.Resolve()
		if err != nil {
			return nil, err
		}
		length = v
	case *Constant:
		length = l.GivenValue()
	default:
		return nil, newError(CodeInvalidPulse, "pulse length %s is not a plain value", p.length)
	}

	if cycles := units.TimeToCycles(length, units.RoundCeil); cycles >= 1<<32 {
		return nil, newError(CodeInvalidPulse, "pulse length exceeds the possible wait time, %d cycles", cycles)
	}

	amp := p.constantAmplitude()
	step := 1.0 / sampleRate
	if length < step/2 {
		return nil, nil
	}

	n := int(math.Ceil(length / step))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x := float64(i) * step
		if x >= length {
			break
		}
		out = append(out, amp*p.shape.At(x/length))
	}
	return out, nil
}

func (p *Pulse) constantAmplitude() float64 {
	if c, ok := p.amplitude.(*Constant); ok {
		return c.GivenValue()
	}
	return 1
}

func (p *Pulse) String() string {
	var args []string
	if p.mode == pulseModeNormal {
		args = append(args, p.length.String())
	} else {
		args = append(args, fmt.Sprintf("%q", p.mode))
	}
	if p.shape != ShapeRect {
		args = append(args, fmt.Sprintf("shape=%s", p.shape))
	}
	if p.ampSet && p.mode != pulseModeOff {
		args = append(args, fmt.Sprintf("amplitude=%s", p.amplitude))
	}
	if p.phaseSet {
		args = append(args, fmt.Sprintf("phase=%s", p.phase))
	}
	if p.frequency != nil {
		args = append(args, fmt.Sprintf("frequency=%s", p.frequency))
	}
	return fmt.Sprintf("Pulse(%s)", strings.Join(args, ", "))
}
