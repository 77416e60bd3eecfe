package qicode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCell_PulseTablesDeduplicate(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	j.Play(q[0], NewPulse(100e-9))
	j.Play(q[0], NewPulse(100e-9))
	j.Play(q[0], NewPulse(200e-9))
	j.PlayReadout(q[0], NewPulse(100e-9))
	require.NoError(t, j.Err())

	assert.Len(t, q[0].ManipulationPulses(), 2, "equal pulses share a slot")
	assert.Len(t, q[0].ReadoutPulses(), 1, "readout uses its own table")

	cmds := j.Commands()
	assert.Equal(t, 1, cmds[0].(*PlayCommand).TableIndex())
	assert.Equal(t, 1, cmds[1].(*PlayCommand).TableIndex())
	assert.Equal(t, 2, cmds[2].(*PlayCommand).TableIndex())
	assert.Equal(t, 1, cmds[3].(*PlayReadoutCommand).TableIndex())
}

func TestCell_PulseTableFull(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	for i := 1; i <= 13; i++ {
		j.Play(q[0], NewPulse(float64(i)*4e-9))
	}
	require.NoError(t, j.Err())

	j.Play(q[0], NewPulse(14*4e-9))
	err := j.Err()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodePulseTableFull))
}

func TestCell_RotateFrameSharesManipulationTable(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	j.RotateFrame(q[0], 0.5)
	j.RotateFrame(q[0], 0.5)
	j.RotateFrame(q[0], 0.7)
	require.NoError(t, j.Err())
	assert.Len(t, q[0].ManipulationPulses(), 2)

	cmds := j.Commands()
	assert.Equal(t, cmds[0].(*RotateFrameCommand).TableIndex(), cmds[1].(*RotateFrameCommand).TableIndex())

	// A played pulse with the same settings must not share the slot,
	// since a frame rotation only advances the oscillator phase.
	j.Play(q[0], NewPulse(0.0, WithPhase(0.5)))
	require.NoError(t, j.Err())
	assert.Len(t, q[0].ManipulationPulses(), 3)
}

func TestCell_TriggerTable(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	j.DigitalTrigger(q[0], 4e-9, []int{1})
	j.DigitalTrigger(q[0], 4e-9, []int{2, 1})
	j.DigitalTrigger(q[0], 4e-9, []int{1})
	require.NoError(t, j.Err())
	assert.Len(t, q[0].TriggerSets(), 2)

	cmds := j.Commands()
	assert.Equal(t, 1, cmds[0].(*DigitalTriggerCommand).TableIndex())
	assert.Equal(t, 2, cmds[1].(*DigitalTriggerCommand).TableIndex())
	assert.Equal(t, 1, cmds[2].(*DigitalTriggerCommand).TableIndex())

	j.DigitalTrigger(q[0], 4e-9, []int{3})
	require.NoError(t, j.Err())

	j.DigitalTrigger(q[0], 4e-9, []int{4})
	err := j.Err()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeTriggerTableFull))
}

func TestCell_RecordingLengthConflict(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	j.Recording(q[0], 400e-9, SaveTo("a"))
	j.Recording(q[0], 400e-9, SaveTo("b"))
	require.NoError(t, j.Err())

	got, err := q[0].RecordingLength()
	require.NoError(t, err)
	assert.Equal(t, 400e-9, got)

	j.Recording(q[0], 800e-9, SaveTo("c"))
	err = j.Err()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeRecordingLength))
}

func TestCell_RecordingLengthDefaultsToZero(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	got, err := q[0].RecordingLength()
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestCell_PropShadowedBySetProperty(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	q[0].SetProperty("n", 3)
	q[0].SetProperty("t", 2.5)

	assert.IsType(t, &Constant{}, q[0].Prop("n"))
	assert.Equal(t, "3", q[0].Prop("n").String(), "integral values become integer literals")
	assert.Equal(t, "2.5", q[0].Prop("t").String())
	assert.False(t, q[0].HasUnresolvedProperties())
}

func TestCell_ResolveProperties(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)
	q[0].Prop("T1")
	q[0].Prop("rec_len")

	err := q[0].resolveProperties(nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnresolvedProperties))
	assert.Contains(t, err.Error(), "[T1 rec_len]", "missing names are sorted")

	s := NewSample(1)
	s.Cell(0).Set("T1", 8e-6)
	s.Cell(0).Set("rec_len", 400e-9)
	require.NoError(t, q[0].resolveProperties(s.Cell(0)))
	assert.False(t, q[0].HasUnresolvedProperties())

	v, ok := q[0].property("T1")
	require.True(t, ok)
	assert.Equal(t, 8e-6, v)
}

func TestCell_ResolvePropertiesPartialSample(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)
	q[0].Prop("pi_pulse")
	q[0].Prop("T1")

	s := NewSample(1)
	s.Cell(0).Set("T1", 8e-6)

	err := q[0].resolveProperties(s.Cell(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[pi_pulse]")
}

func TestCoupler_FluxPulseTable(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)
	c := NewCouplers(j, 2)

	for i := 1; i <= 3; i++ {
		j.PlayFlux(c[0], NewPulse(float64(i)*4e-9))
	}
	require.NoError(t, j.Err())
	assert.Len(t, c[0].Pulses(), 3)
	assert.Empty(t, c[1].Pulses())

	cmd := j.Commands()[0].(*PlayFluxCommand)
	assert.Same(t, q[0], cmd.Cell())
	assert.Equal(t, 1, cmd.TableIndex())

	j.PlayFlux(c[0], NewPulse(16e-9))
	err := j.Err()
	require.Error(t, err)
	assert.True(t, IsCode(err, CodePulseTableFull))
	assert.Contains(t, err.Error(), "flux")
}

func TestCell_InitialParameterDefaults(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	f, err := q[0].InitialManipulationFrequency()
	require.NoError(t, err)
	assert.Equal(t, 90e6, f)
	assert.Empty(t, j.Diagnostics(), "no warning while the cell plays nothing")

	j.Play(q[0], NewPulse(100e-9))
	f, err = q[0].InitialManipulationFrequency()
	require.NoError(t, err)
	assert.Equal(t, 90e6, f)
	require.NotEmpty(t, j.Diagnostics())
	assert.Equal(t, CodeDefaultProperty, j.Diagnostics()[0].Code)

	q[0].SetInitialManipulationFrequency(newFloatConstant(60e6))
	f, err = q[0].InitialManipulationFrequency()
	require.NoError(t, err)
	assert.Equal(t, 60e6, f)

	rf, err := q[0].InitialReadoutFrequency()
	require.NoError(t, err)
	assert.Equal(t, 30e6, rf)

	off, err := q[0].InitialRecordingOffset()
	require.NoError(t, err)
	assert.Zero(t, off)

	amp, err := q[0].InitialAmplitude()
	require.NoError(t, err)
	assert.Equal(t, 1.0, amp)

	rp, err := q[0].InitialReadoutPhase()
	require.NoError(t, err)
	assert.Zero(t, rp)

	ra, err := q[0].InitialReadoutAmplitude()
	require.NoError(t, err)
	assert.Equal(t, 1.0, ra)

	q[0].SetInitialReadoutPhase(newFloatConstant(0.5))
	rp, err = q[0].InitialReadoutPhase()
	require.NoError(t, err)
	assert.Equal(t, 0.5, rp)
}

func TestCell_RecordingOrderBookkeeping(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)

	r := q[0].resultContainer("res")
	assert.Same(t, r, q[0].resultContainer("res"))

	q[0].appendRecording(r)
	q[0].appendRecording(r)
	assert.Equal(t, 2, q[0].NumberOfRecordings())
	assert.Equal(t, 2, r.Recordings())
	assert.Equal(t, []*Result{r, r}, q[0].RecordingOrder())

	q[0].clearRecordingOrder()
	assert.Zero(t, q[0].NumberOfRecordings())
	assert.Zero(t, r.Recordings())
}
