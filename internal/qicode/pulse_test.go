package qicode

import (
	"testing"

	"github.com/quantuminterface/qicode/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPulse_Defaults(t *testing.T) {
	p := NewPulse(100e-9)
	require.NoError(t, p.buildErr())

	assert.Same(t, ShapeRect, p.Shape())
	assert.False(t, p.Hold())
	assert.False(t, p.IsVariableLength())
	assert.Nil(t, p.Frequency())
	assert.Equal(t, 1.0, p.Amplitude().(*Constant).GivenValue())
	assert.Equal(t, 0.0, p.Phase().(*Constant).GivenValue())
	assert.Equal(t, "Pulse(1e-07)", p.String())
}

func TestPulse_String(t *testing.T) {
	tests := []struct {
		name string
		p    *Pulse
		want string
	}{
		{"frequency", NewPulse(100e-9, WithFrequency(60e6)), "Pulse(1e-07, frequency=6e+07)"},
		{"amplitude and phase", NewPulse(100e-9, WithAmplitude(0.5), WithPhase(0.5)), "Pulse(1e-07, amplitude=0.5, phase=0.5)"},
		{"shape", NewPulse(100e-9, WithShape(ShapeGauss)), "Pulse(1e-07, shape=Shape(gauss))"},
		{"continuous", ContinuousPulse(WithFrequency(1e6)), `Pulse("cw", frequency=1e+06)`},
		{"off", PulseOff(), `Pulse("off")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.String())
		})
	}
}

func TestNewPulse_VariableLength(t *testing.T) {
	j := NewJob()
	v := j.TimeVariable()

	p := NewPulse(v)
	require.NoError(t, p.buildErr())
	assert.True(t, p.IsVariableLength())
	assert.Equal(t, []*Variable{v}, p.Variables())
}

func TestNewPulse_VariableLengthNeedsRect(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)
	v := j.TimeVariable()

	p := NewPulse(v, WithShape(ShapeGauss))
	err := p.buildErr()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidPulse))
	assert.Contains(t, err.Error(), "rectangular shape")

	j.Play(q[0], p)
	assert.True(t, IsCode(j.Err(), CodeInvalidPulse), "the job reports the broken pulse")
}

func TestNewPulse_LengthOverflow(t *testing.T) {
	require.NoError(t, NewPulse(17.0).buildErr())

	err := NewPulse(18.0).buildErr()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidPulse))
	assert.Contains(t, err.Error(), "exceeds the possible wait time")
}

func TestPulse_Equal(t *testing.T) {
	j := NewJob()
	v1 := j.TimeVariable()
	v2 := j.TimeVariable()
	amp := j.AmplitudeVariable()

	tests := []struct {
		name string
		a, b *Pulse
		want bool
	}{
		{"same settings", NewPulse(100e-9), NewPulse(100e-9), true},
		{"different length", NewPulse(100e-9), NewPulse(104e-9), false},
		{"any variable length matches", NewPulse(v1), NewPulse(v2), true},
		{"variable amplitude never shares", NewPulse(v1, WithAmplitude(amp)), NewPulse(v1, WithAmplitude(amp)), false},
		{"different amplitude", NewPulse(100e-9, WithAmplitude(0.5)), NewPulse(100e-9), false},
		{"different shape", NewPulse(100e-9, WithShape(ShapeGauss)), NewPulse(100e-9), false},
		{"different phase", NewPulse(100e-9, WithPhase(0.5)), NewPulse(100e-9), false},
		{"hold differs", NewPulse(100e-9, WithHold()), NewPulse(100e-9), false},
		{"frequency only on one", NewPulse(100e-9, WithFrequency(60e6)), NewPulse(100e-9), false},
		{"same frequency", NewPulse(100e-9, WithFrequency(60e6)), NewPulse(100e-9, WithFrequency(60e6)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestPulse_Modes(t *testing.T) {
	cw := ContinuousPulse()
	require.NoError(t, cw.buildErr())
	assert.True(t, cw.Hold())
	assert.Equal(t, units.ControllerCycleTime, cw.Length().(*Constant).GivenValue())

	off := PulseOff()
	require.NoError(t, off.buildErr())
	assert.False(t, off.Hold())
	assert.Equal(t, 0.0, off.Amplitude().(*Constant).GivenValue())
}

func TestPulse_EnvelopeRect(t *testing.T) {
	p := NewPulse(100e-9, WithAmplitude(0.5))

	samples, err := p.Envelope(1e9)
	require.NoError(t, err)
	require.Len(t, samples, 100)
	for _, s := range samples {
		assert.Equal(t, 0.5, s)
	}
}

func TestPulse_EnvelopeShaped(t *testing.T) {
	p := NewPulse(8e-9, WithShape(ShapeRamp))

	samples, err := p.Envelope(1e9)
	require.NoError(t, err)
	require.Len(t, samples, 8)
	assert.Equal(t, 0.0, samples[0])
	assert.InDelta(t, 0.5, samples[4], 1e-12)
	assert.InDelta(t, 0.875, samples[7], 1e-12)
}

func TestPulse_EnvelopeVariableLength(t *testing.T) {
	j := NewJob()
	v := j.TimeVariable()
	p := NewPulse(v, WithAmplitude(0.25))

	samples, err := p.Envelope(1e9)
	require.NoError(t, err)
	require.Len(t, samples, units.ControllerSamplesPerCycle)
	for _, s := range samples {
		assert.Equal(t, 0.25, s, "held at constant amplitude for one cycle")
	}
}

func TestPulse_EnvelopeShortPulseCollapses(t *testing.T) {
	samples, err := NewPulse(0.4e-9).Envelope(1e9)
	require.NoError(t, err)
	assert.Nil(t, samples)

	samples, err = NewPulse(0.0).Envelope(1e9)
	require.NoError(t, err)
	assert.Nil(t, samples)
}

func TestPulse_EnvelopeResolvesProperties(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)
	p := NewPulse(q[0].Prop("pulse_length"))

	_, err := p.Envelope(1e9)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnresolvedProperties))

	q[0].SetProperty("pulse_length", 8e-9)
	samples, err := p.Envelope(1e9)
	require.NoError(t, err)
	assert.Len(t, samples, 8)
}

func TestShapeByName(t *testing.T) {
	s, ok := ShapeByName("gauss")
	require.True(t, ok)
	assert.Same(t, ShapeGauss, s)

	_, ok = ShapeByName("triangle")
	assert.False(t, ok)
}

func TestShape_AtOutsideDomain(t *testing.T) {
	assert.Equal(t, 1.0, ShapeRect.At(0.0))
	assert.Equal(t, 1.0, ShapeRect.At(0.999))
	assert.Equal(t, 0.0, ShapeRect.At(-0.01))
	assert.Equal(t, 0.0, ShapeRect.At(1.0))
	assert.Equal(t, 1.0, ShapeGauss.At(0.5))
}
