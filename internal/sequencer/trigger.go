package sequencer

import (
	"github.com/quantuminterface/qicode/internal/isa"
	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/units"
)

const (
	// chokePulseIndex is the pulse table slot reserved for the zero
	// amplitude pulse that silences a playing module.
	chokePulseIndex = 14

	// recordingDelayCycles is the latency of the recording module between
	// trigger and first sample.
	recordingDelayCycles = 1
)

// Recording trigger values of the hardware. Single stores the demodulated
// result, oneshot keeps the raw window in BRAM, continuous toggles free
// running recording on and off.
const (
	recordingModeSingle     = 1
	recordingModeOneshot    = 2
	recordingModeContinuous = 3
)

const (
	moduleReadout = iota
	moduleRecording
	moduleManipulation
	moduleExternal
)

// triggerState remembers which pulse modules are still playing, so the next
// instruction can choke them first.
type triggerState struct {
	active [4]bool
}

func (t *triggerState) pulseActive() bool {
	for _, a := range t.active {
		if a {
			return true
		}
	}
	return false
}

// setActive marks the readout and manipulation modules after a variable
// length or single cycle trigger. Recording and external modules never
// hold.
func (t *triggerState) setActive(readout, manipulation bool) {
	t.active[moduleReadout] = readout
	t.active[moduleManipulation] = manipulation
	t.active[moduleRecording] = false
	t.active[moduleExternal] = false
}

func (t *triggerState) reset() { t.active = [4]bool{} }

// pulseValue resolves a module's trigger slot. An idle module without a new
// pulse stays at zero, an active one is choked.
func pulseValue(p *playSpec, active bool) int {
	if p == nil {
		if active {
			return chokePulseIndex
		}
		return 0
	}
	return p.index
}

// recordingTriggerValue maps a recording command onto the trigger value of
// the recording module.
func recordingTriggerValue(rec *qicode.RecordingCommand) int {
	if rec == nil {
		return 0
	}
	if on, ok := rec.ToggleContinuous(); ok && on {
		return recordingModeContinuous
	}
	if rec.SaveTo() == "" {
		return recordingModeOneshot
	}
	return recordingModeSingle
}

// playSpec names the pulse table slot a trigger starts and how long its
// envelope runs.
type playSpec struct {
	index  int
	length qicode.Expression
}

// triggerSpec collects everything one trigger instruction starts. At most
// one play per module, the slots of absent modules stay zero.
type triggerSpec struct {
	manipulation *playSpec
	readout      *playSpec
	recording    *qicode.RecordingCommand
	coupler      [2]*playSpec
	digital      *playSpec

	// noRecordingDelay drops the recording module latency from the length
	// calculation. Parallel sections account for it in their slots.
	noRecordingDelay bool

	// slotCycles overrides the computed trigger length. Parallel sections
	// pace their triggers by slot boundaries, not by pulse lengths.
	slotCycles int64

	// varSingleCycle marks pulses that play for exactly one cycle per
	// loop iteration regardless of their variable length.
	varSingleCycle bool
}

func (t *triggerSpec) plays() []*playSpec {
	specs := make([]*playSpec, 0, 5)
	for _, p := range []*playSpec{t.manipulation, t.readout, t.coupler[0], t.coupler[1], t.digital} {
		if p != nil {
			specs = append(specs, p)
		}
	}
	return specs
}

// triggerWord assembles the six module values of a trigger instruction and
// clears the active state, which the new trigger supersedes.
func (s *Sequencer) triggerWord(t triggerSpec) [6]int {
	var w [6]int
	w[0] = pulseValue(t.readout, s.trig.active[moduleReadout])
	w[1] = recordingTriggerValue(t.recording)
	w[2] = pulseValue(t.manipulation, s.trig.active[moduleManipulation])
	if t.coupler[0] != nil {
		w[3] = t.coupler[0].index
	}
	if t.coupler[1] != nil {
		w[4] = t.coupler[1].index
	}
	if t.digital != nil {
		w[5] = t.digital.index
	}
	s.trig.reset()
	return w
}

// triggerLength determines how long the trigger occupies its modules.
// A variable pulse length is returned as the variable's register, otherwise
// the length is the maximum over all started pulses and the recording
// window in cycles.
func (s *Sequencer) triggerLength(t triggerSpec) (*register, int64) {
	var vars []*qicode.Variable
	for _, p := range t.plays() {
		v, ok := p.length.(*qicode.Variable)
		if !ok {
			continue
		}
		seen := false
		for _, present := range vars {
			if present == v {
				seen = true
				break
			}
		}
		if !seen {
			vars = append(vars, v)
		}
	}
	if len(vars) > 1 {
		s.failf(qicode.CodeConcurrentVarLength,
			"concurrent pulses with different variable lengths are not supported")
		return nil, 0
	}
	if len(vars) == 1 {
		return s.varRegister(vars[0]), 0
	}
	var seconds float64
	for _, p := range t.plays() {
		if sec, ok := s.lengthSeconds(p.length); ok && sec > seconds {
			seconds = sec
		}
	}
	if t.recording != nil {
		sec, _ := s.lengthSeconds(t.recording.Length())
		if !t.noRecordingDelay {
			sec += units.CyclesToTime(recordingDelayCycles)
		}
		if sec > seconds {
			seconds = sec
		}
	}
	return nil, units.TimeToCycles(seconds, units.RoundCeil)
}

// addTriggerCmd lowers one trigger instruction plus the waits that let its
// pulses run out. Variable length pulses leave their modules marked active
// so the next instruction chokes them.
func (s *Sequencer) addTriggerCmd(t triggerSpec) {
	if s.err != nil {
		return
	}
	word := s.triggerWord(t)
	s.add(isa.NewTrigger(word))

	reg, cycles := (*register)(nil), t.slotCycles
	if cycles == 0 {
		reg, cycles = s.triggerLength(t)
	}
	if reg != nil || t.varSingleCycle {
		if !t.varSingleCycle {
			if !reg.known {
				s.failf(qicode.CodeRegisterUninitialized,
					"variable at register %d has not been initialised", reg.addr)
				return
			}
			s.addTimed(isa.NewTriggerWaitReg(reg.addr), int64(uint32(reg.value))-1, reg.valid)
		}
		s.trig.setActive(t.readout != nil, t.manipulation != nil)
		s.checkRecordingState(t.recording)
		return
	}

	awaited := s.checkRecordingState(t.recording)
	toggling := false
	if t.recording != nil {
		_, toggling = t.recording.ToggleContinuous()
	}
	if !awaited && cycles > 1 && (!toggling || t.slotCycles > 0) {
		s.waitCycles(cycles - 1)
	}
}

// checkRecordingState emits the state await when the recording routes the
// qubit state into a variable. The awaited value is runtime dependent, so
// the cycle count and the variable's shadow stop being deterministic.
func (s *Sequencer) checkRecordingState(rec *qicode.RecordingCommand) bool {
	if rec == nil || !rec.UsesState() {
		return false
	}
	reg := s.varRegister(rec.StateTo())
	s.add(isa.NewAwaitQubitState(s.cellIndex, reg.addr))
	reg.known = false
	reg.valid = false
	s.cycles.valid = false
	return true
}

// chokePulse silences all active modules with an otherwise empty trigger.
func (s *Sequencer) chokePulse() {
	word := s.triggerWord(triggerSpec{})
	s.add(isa.NewTrigger(word))
}

// endOfBody chokes pulses still playing when a command body closes.
func (s *Sequencer) endOfBody() {
	if s.err != nil {
		return
	}
	if s.trig.pulseActive() {
		s.chokePulse()
	}
}

// addNCOSync aligns the oscillators of all cells, then waits out the
// programmed sync delay.
func (s *Sequencer) addNCOSync(delay float64) {
	s.add(isa.NewSyncTrigger())
	cycles := units.TimeToCycles(delay, units.RoundCeil)
	if cycles > 1 {
		s.waitCycles(cycles - 1)
	}
}
