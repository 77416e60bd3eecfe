package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimeToCycles_CycleAligned tests that exact cycle multiples convert
// without drift in either rounding mode.
func TestTimeToCycles_CycleAligned(t *testing.T) {
	times := map[float64]int64{
		4e-9:   1,
		8e-9:   2,
		48e-9:  12,
		52e-9:  13,
		100e-9: 25,
		400e-9: 100,
		1e-6:   250,
		2.5e-6: 625,
	}
	for seconds, want := range times {
		assert.Equal(t, want, TimeToCycles(seconds, RoundNearest), "round %v", seconds)
		assert.Equal(t, want, TimeToCycles(seconds, RoundCeil), "ceil %v", seconds)
	}
}

// TestTimeToCycles_Modes tests the two rounding modes diverge off-cycle.
func TestTimeToCycles_Modes(t *testing.T) {
	assert.Equal(t, int64(1), TimeToCycles(5e-9, RoundNearest))
	assert.Equal(t, int64(2), TimeToCycles(5e-9, RoundCeil))
	assert.Equal(t, int64(2), TimeToCycles(7e-9, RoundNearest))
	assert.Equal(t, int64(2), TimeToCycles(7e-9, RoundCeil))
	assert.Equal(t, int64(0), TimeToCycles(0, RoundNearest))
	assert.Equal(t, int64(0), TimeToCycles(0, RoundCeil))
}

func TestCyclesToTime_RoundTrip(t *testing.T) {
	for _, cycles := range []int64{0, 1, 12, 625, 1 << 20} {
		back := TimeToCycles(CyclesToTime(cycles), RoundNearest)
		assert.Equal(t, cycles, back)
	}
}

func TestIsIntegerCycles(t *testing.T) {
	assert.True(t, IsIntegerCycles(48e-9))
	assert.True(t, IsIntegerCycles(4e-9))
	assert.False(t, IsIntegerCycles(5e-9))
	assert.False(t, IsIntegerCycles(6e-9))
}

// TestFrequencyToIncrement tests NCO increment scaling against hand-computed
// reference values.
func TestFrequencyToIncrement(t *testing.T) {
	// 250 MHz maps to the full 2^30 range.
	assert.Equal(t, int32(1<<30), FrequencyToIncrement(250e6))
	assert.Equal(t, int32(0), FrequencyToIncrement(0))

	inc := FrequencyToIncrement(90e6)
	assert.Equal(t, int32(math.Round(90e6*(1<<30)/250e6)), inc)
	assert.InDelta(t, 90e6, IncrementToFrequency(inc), 0.5/NCOPhaseIncrementPerHz)
}

func TestPhaseToRaw(t *testing.T) {
	assert.Equal(t, int32(0), PhaseToRaw(0))
	assert.Equal(t, int32(1<<15), PhaseToRaw(math.Pi))
	assert.Equal(t, int32(1<<14), PhaseToRaw(math.Pi/2))
	assert.InDelta(t, math.Pi, RawToPhase(PhaseToRaw(math.Pi)), 1e-4)
}

func TestAmplitudeToRaw(t *testing.T) {
	raw, err := AmplitudeToRaw(1.0)
	require.NoError(t, err)
	assert.Equal(t, int32(0xFFFF), raw)

	raw, err = AmplitudeToRaw(0)
	require.NoError(t, err)
	assert.Equal(t, int32(0), raw)

	raw, err = AmplitudeToRaw(0.5)
	require.NoError(t, err)
	assert.Equal(t, int32(0x8000), raw)

	_, err = AmplitudeToRaw(1.5)
	assert.Error(t, err)
	_, err = AmplitudeToRaw(-0.1)
	assert.Error(t, err)
}

func TestSamples(t *testing.T) {
	assert.Equal(t, int64(48), TimeToSamples(48e-9))
	assert.Equal(t, 48e-9, SamplesToTime(48))
}

func TestMaxWaitTime(t *testing.T) {
	// A full 32-bit register of cycles at 4 ns each.
	assert.InDelta(t, float64(math.MaxUint32)*4e-9, MaxWaitTime(), 1e-9)
}
