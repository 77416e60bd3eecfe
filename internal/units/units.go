// Package units converts between physical quantities and the raw values the
// sequencer hardware operates on: controller clock cycles, NCO phase
// increments, NCO phase counter values, and amplitude register values.
//
// The controller clock runs at 250 MHz, so one cycle is 4 ns. Multiples of
// the cycle time scale exactly in binary64, so converting a cycle-aligned
// time never drifts to a neighboring cycle.
package units

import (
	"fmt"
	"math"
)

const (
	// ControllerFrequencyHz is the sequencer clock frequency.
	ControllerFrequencyHz = 250e6

	// ControllerCycleTime is the duration of one clock cycle in seconds.
	ControllerCycleTime = 1.0 / ControllerFrequencyHz

	// ControllerSamplesPerCycle is the number of DAC/ADC samples per cycle.
	ControllerSamplesPerCycle = 4

	// NCOPhaseIncrementPerHz converts a frequency in Hz to the per-sample
	// phase increment of the numerically controlled oscillator.
	NCOPhaseIncrementPerHz = (1 << 30) / ControllerFrequencyHz

	// NCOPhaseValuePerRadian converts a phase in radians to the NCO phase
	// counter value.
	NCOPhaseValuePerRadian = (1 << 16) / (2 * math.Pi)

	// AmplitudeMaxValue is the register value representing amplitude 1.0.
	AmplitudeMaxValue = 0xFFFF

	// RecordingMaxRawSamples is the deepest raw trace the recording module
	// can capture in one shot.
	RecordingMaxRawSamples = 1024
)

// Rounding selects how TimeToCycles resolves times between cycle boundaries.
type Rounding int

const (
	// RoundNearest picks the closest cycle count, halves away from zero.
	RoundNearest Rounding = iota

	// RoundCeil picks the next cycle count, so the duration is never
	// undershot.
	RoundCeil
)

// TimeToCycles converts a time in seconds to clock cycles. The result is
// int64 because waits address the full unsigned 32-bit cycle range.
func TimeToCycles(seconds float64, mode Rounding) int64 {
	scaled := seconds * ControllerFrequencyHz
	if mode == RoundCeil {
		return int64(math.Ceil(scaled))
	}
	return int64(math.Round(scaled))
}

// CyclesToTime converts a cycle count to seconds.
func CyclesToTime(cycles int64) float64 {
	return float64(cycles) / ControllerFrequencyHz
}

// IsIntegerCycles reports whether a time is an integer number of clock
// cycles, within one ppm of the cycle time.
func IsIntegerCycles(seconds float64) bool {
	mod := math.Mod(seconds, ControllerCycleTime)
	diff := math.Min(mod, ControllerCycleTime-mod)
	return diff/ControllerCycleTime < 1e-6
}

// FrequencyToIncrement converts a frequency in Hz to an NCO phase increment.
func FrequencyToIncrement(hz float64) int32 {
	return int32(math.Round(hz * NCOPhaseIncrementPerHz))
}

// IncrementToFrequency converts an NCO phase increment back to Hz.
func IncrementToFrequency(inc int32) float64 {
	return float64(inc) / NCOPhaseIncrementPerHz
}

// PhaseToRaw converts a phase in radians to the NCO phase counter value.
func PhaseToRaw(radians float64) int32 {
	return int32(math.Round(radians * NCOPhaseValuePerRadian))
}

// RawToPhase converts an NCO phase counter value back to radians.
func RawToPhase(raw int32) float64 {
	return float64(raw) / NCOPhaseValuePerRadian
}

// AmplitudeToRaw converts an amplitude factor in [0, 1] to its register
// value.
func AmplitudeToRaw(factor float64) (int32, error) {
	if factor < 0 || factor > 1 {
		return 0, fmt.Errorf("amplitude %v out of range [0, 1]", factor)
	}
	return int32(math.Round(factor * AmplitudeMaxValue)), nil
}

// RawToAmplitude converts an amplitude register value back to a factor.
func RawToAmplitude(raw int32) float64 {
	return float64(raw) / AmplitudeMaxValue
}

// TimeToSamples converts a time to a sample count, cycle-aligned.
func TimeToSamples(seconds float64) int64 {
	return TimeToCycles(seconds, RoundNearest) * ControllerSamplesPerCycle
}

// SamplesToTime converts a sample count to seconds.
func SamplesToTime(samples int64) float64 {
	return CyclesToTime(samples / ControllerSamplesPerCycle)
}

// MaxWaitTime is the longest wait a single register value can express.
func MaxWaitTime() float64 {
	return float64(math.MaxUint32) / ControllerFrequencyHz
}
