package qicode

import (
	"fmt"
	"sort"
)

// Pulse table capacities. Slot 0 means "no pulse" and slot 15 chokes the
// running pulse, leaving 13 usable entries per module. The digital trigger
// unit and the coupler modules address their tables with two bits, slot 0
// again reserved.
const (
	maxModulePulses = 13
	maxTriggerSets  = 3
	maxFluxPulses   = 3
)

// Default hardware settings for pulse families that never state their own.
const (
	defaultManipulationFrequencyHz = 90e6
	defaultReadoutFrequencyHz      = 30e6
)

// TriggerSet is one configuration of the digital trigger unit: the output
// lines raised while the trigger fires.
type TriggerSet struct {
	outputs []int
}

func newTriggerSet(outputs []int) *TriggerSet {
	sorted := append([]int(nil), outputs...)
	sort.Ints(sorted)
	uniq := sorted[:0]
	for i, o := range sorted {
		if i == 0 || o != sorted[i-1] {
			uniq = append(uniq, o)
		}
	}
	return &TriggerSet{outputs: uniq}
}

// Outputs lists the raised output lines, ascending.
func (t *TriggerSet) Outputs() []int { return t.outputs }

// Equal reports whether two sets raise the same lines.
func (t *TriggerSet) Equal(o *TriggerSet) bool {
	if len(t.outputs) != len(o.outputs) {
		return false
	}
	for i, line := range t.outputs {
		if o.outputs[i] != line {
			return false
		}
	}
	return true
}

// Cell is one digital unit cell of the controller: a qubit's manipulation
// and readout pulse generators, its recording module, and the sequencer
// that will run the compiled program. Commands accumulate pulses and
// results on the cell; properties defer to sample values supplied at build
// time.
type Cell struct {
	job   *Job
	index int

	manipulationPulses []*Pulse
	readoutPulses      []*Pulse
	triggerSets        []*TriggerSet

	properties map[string]float64
	unresolved map[string]struct{}

	results        map[string]*Result
	recordingOrder []*Result

	relevantVars []*Variable

	recordingLength Expression

	// Initial hardware parameters seeded by the store-placement analysis
	// when a parameter is constant across the whole program.
	initialManipFreq    Expression
	initialReadoutFreq  Expression
	initialRecOffset    Expression
	initialPhase        Expression
	initialAmplitude    Expression
	initialReadoutPhase Expression
	initialReadoutAmp   Expression
}

func newCell(job *Job, index int) *Cell {
	return &Cell{
		job:        job,
		index:      index,
		properties: make(map[string]float64),
		unresolved: make(map[string]struct{}),
		results:    make(map[string]*Result),
	}
}

// Index returns the controller cell index.
func (c *Cell) Index() int { return c.index }

func (c *Cell) String() string {
	return fmt.Sprintf("Cell(%d)", c.index)
}

// Prop references the named sample property. A value already set on the
// cell yields a literal; otherwise the reference resolves when the job is
// built against a sample.
func (c *Cell) Prop(name string) Expression {
	if v, ok := c.properties[name]; ok {
		if v == float64(int64(v)) {
			return newIntConstant(int64(v))
		}
		return newFloatConstant(v)
	}
	c.unresolved[name] = struct{}{}
	return newCellProperty(c, name)
}

// SetProperty fixes a property value directly on the cell, shadowing any
// sample value.
func (c *Cell) SetProperty(name string, value float64) {
	c.properties[name] = value
}

func (c *Cell) property(name string) (float64, bool) {
	v, ok := c.properties[name]
	return v, ok
}

// HasUnresolvedProperties reports whether any referenced property still
// has no value.
func (c *Cell) HasUnresolvedProperties() bool {
	return len(c.missingProperties()) > 0
}

func (c *Cell) missingProperties() []string {
	var missing []string
	for name := range c.unresolved {
		if _, ok := c.properties[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// resolveProperties copies every referenced property from the sample cell.
// All referenced names must be present.
func (c *Cell) resolveProperties(sc *SampleCell) error {
	var missing []string
	for name := range c.unresolved {
		if _, ok := c.properties[name]; ok {
			continue
		}
		if sc == nil {
			missing = append(missing, name)
			continue
		}
		if _, ok := sc.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		err := newError(CodeUnresolvedProperties,
			"not all properties for the job could be resolved, missing %v", missing)
		err.Cell = c.Name()
		return err
	}
	for name := range c.unresolved {
		if _, ok := c.properties[name]; ok {
			continue
		}
		v, _ := sc.Get(name)
		c.properties[name] = v
	}
	return nil
}

// Name returns a short label for diagnostics.
func (c *Cell) Name() string {
	return fmt.Sprintf("cell %d", c.index)
}

// addManipulationPulse registers a pulse with the manipulation module and
// returns its 1-based table index. Equivalent pulses share an entry.
func (c *Cell) addManipulationPulse(p *Pulse) (int, error) {
	return addPulse(&c.manipulationPulses, p, c)
}

// addReadoutPulse registers a pulse with the readout module.
func (c *Cell) addReadoutPulse(p *Pulse) (int, error) {
	return addPulse(&c.readoutPulses, p, c)
}

func addPulse(table *[]*Pulse, p *Pulse, c *Cell) (int, error) {
	for i, have := range *table {
		if have.Equal(p) {
			return i + 1, nil
		}
	}
	*table = append(*table, p)
	if len(*table) > maxModulePulses {
		err := newError(CodePulseTableFull, "too many pulses in use")
		err.Cell = c.Name()
		return 0, err
	}
	return len(*table), nil
}

// addTriggerSet registers a digital trigger configuration and returns its
// 1-based index.
func (c *Cell) addTriggerSet(ts *TriggerSet) (int, error) {
	for i, have := range c.triggerSets {
		if have.Equal(ts) {
			return i + 1, nil
		}
	}
	c.triggerSets = append(c.triggerSets, ts)
	if len(c.triggerSets) > maxTriggerSets {
		err := newError(CodeTriggerTableFull,
			"too many digital trigger sets in use, only three sets are available")
		err.Cell = c.Name()
		return 0, err
	}
	return len(c.triggerSets), nil
}

// ManipulationPulses returns the manipulation pulse table, 1-based slots.
func (c *Cell) ManipulationPulses() []*Pulse { return c.manipulationPulses }

// ReadoutPulses returns the readout pulse table, 1-based slots.
func (c *Cell) ReadoutPulses() []*Pulse { return c.readoutPulses }

// TriggerSets returns the digital trigger table, 1-based slots.
func (c *Cell) TriggerSets() []*TriggerSet { return c.triggerSets }

// addRecordingLength fixes the cell's recording window length. All
// recordings of a cell share one length.
func (c *Cell) addRecordingLength(length Expression) error {
	if c.recordingLength == nil {
		c.recordingLength = length
		return nil
	}
	if c.recordingLength.EqualSyntax(length) {
		return nil
	}
	err := newError(CodeRecordingLength, "multiple definitions of recording length used")
	err.Cell = c.Name()
	return err
}

// RecordingLength returns the recording window in seconds, zero when no
// recording was issued.
func (c *Cell) RecordingLength() (float64, error) {
	if c.recordingLength == nil {
		return 0, nil
	}
	return resolveNumber(c.recordingLength)
}

func resolveNumber(e Expression) (float64, error) {
	switch v := e.(type) {
	case *Constant:
		return v.GivenValue(), nil
	case *CellProperty:
		return v.Resolve()
	}
	return 0, newError(CodeInvalidLiteral, "%s does not resolve to a plain number", e)
}

// resultContainer returns the named result, creating it on first use.
func (c *Cell) resultContainer(name string) *Result {
	if r, ok := c.results[name]; ok {
		return r
	}
	r := &Result{name: name, cell: c}
	c.results[name] = r
	return r
}

// Results lists the cell's result containers sorted by name.
func (c *Cell) Results() []*Result {
	names := make([]string, 0, len(c.results))
	for name := range c.results {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Result, len(names))
	for i, name := range names {
		out[i] = c.results[name]
	}
	return out
}

// RecordingOrder lists which result receives each recording of one shot,
// as established by the recording simulator.
func (c *Cell) RecordingOrder() []*Result { return c.recordingOrder }

// NumberOfRecordings returns how many recordings one shot performs.
func (c *Cell) NumberOfRecordings() int { return len(c.recordingOrder) }

func (c *Cell) appendRecording(r *Result) {
	c.recordingOrder = append(c.recordingOrder, r)
	r.recordings++
}

func (c *Cell) clearRecordingOrder() {
	for _, r := range c.recordingOrder {
		r.recordings = 0
	}
	c.recordingOrder = nil
}

// SetRecordingOrder replaces the cell's recording order with a fresh
// simulation result, recounting every result container. Safe to call
// again on recompilation.
func (c *Cell) SetRecordingOrder(order []*Result) {
	c.clearRecordingOrder()
	for _, r := range order {
		c.appendRecording(r)
	}
}

// addVariable marks a variable as read or written by this cell's stream.
func (c *Cell) addVariable(v *Variable) {
	for _, have := range c.relevantVars {
		if have == v {
			return
		}
	}
	c.relevantVars = append(c.relevantVars, v)
	v.addRelevantCell(c)
}

// RelevantVariables lists the variables of this cell's stream sorted by
// declaration order.
func (c *Cell) RelevantVariables() []*Variable {
	out := append([]*Variable(nil), c.relevantVars...)
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// InitialManipulationFrequency returns the manipulation oscillator
// frequency at program start. Falls back to the hardware default when the
// program never pins one.
func (c *Cell) InitialManipulationFrequency() (float64, error) {
	if c.initialManipFreq == nil {
		if len(c.manipulationPulses) > 0 {
			c.job.warnf(CodeDefaultProperty, "%s: manipulation pulses without frequency given, using 90 MHz", c.Name())
		}
		return defaultManipulationFrequencyHz, nil
	}
	return resolveNumber(c.initialManipFreq)
}

// InitialReadoutFrequency returns the readout oscillator frequency at
// program start.
func (c *Cell) InitialReadoutFrequency() (float64, error) {
	if c.initialReadoutFreq == nil {
		if len(c.readoutPulses) > 0 {
			c.job.warnf(CodeDefaultProperty, "%s: readout pulses without frequency given, using 30 MHz", c.Name())
		}
		return defaultReadoutFrequencyHz, nil
	}
	return resolveNumber(c.initialReadoutFreq)
}

// InitialRecordingOffset returns the recording window offset in seconds at
// program start.
func (c *Cell) InitialRecordingOffset() (float64, error) {
	if c.initialRecOffset == nil {
		return 0, nil
	}
	return resolveNumber(c.initialRecOffset)
}

// InitialPhase returns the manipulation phase in radians at program start.
func (c *Cell) InitialPhase() (float64, error) {
	if c.initialPhase == nil {
		if len(c.manipulationPulses) > 0 {
			c.job.warnf(CodeDefaultProperty, "%s: manipulation pulses without phase given, using 0", c.Name())
		}
		return 0, nil
	}
	return resolveNumber(c.initialPhase)
}

// InitialAmplitude returns the manipulation amplitude at program start.
func (c *Cell) InitialAmplitude() (float64, error) {
	if c.initialAmplitude == nil {
		if len(c.manipulationPulses) > 0 {
			c.job.warnf(CodeDefaultProperty, "%s: manipulation pulses without amplitude given, using 1", c.Name())
		}
		return 1, nil
	}
	return resolveNumber(c.initialAmplitude)
}

// InitialReadoutPhase returns the readout phase in radians at program
// start.
func (c *Cell) InitialReadoutPhase() (float64, error) {
	if c.initialReadoutPhase == nil {
		if len(c.readoutPulses) > 0 {
			c.job.warnf(CodeDefaultProperty, "%s: readout pulses without phase given, using 0", c.Name())
		}
		return 0, nil
	}
	return resolveNumber(c.initialReadoutPhase)
}

// InitialReadoutAmplitude returns the readout amplitude at program start.
func (c *Cell) InitialReadoutAmplitude() (float64, error) {
	if c.initialReadoutAmp == nil {
		if len(c.readoutPulses) > 0 {
			c.job.warnf(CodeDefaultProperty, "%s: readout pulses without amplitude given, using 1", c.Name())
		}
		return 1, nil
	}
	return resolveNumber(c.initialReadoutAmp)
}

// The placement pass pins constant hardware parameters here instead of
// emitting store commands for them.

func (c *Cell) SetInitialManipulationFrequency(e Expression) { c.initialManipFreq = e }
func (c *Cell) SetInitialReadoutFrequency(e Expression)      { c.initialReadoutFreq = e }
func (c *Cell) SetInitialRecordingOffset(e Expression)       { c.initialRecOffset = e }
func (c *Cell) SetInitialPhase(e Expression)                 { c.initialPhase = e }
func (c *Cell) SetInitialAmplitude(e Expression)             { c.initialAmplitude = e }
func (c *Cell) SetInitialReadoutPhase(e Expression)          { c.initialReadoutPhase = e }
func (c *Cell) SetInitialReadoutAmplitude(e Expression)      { c.initialReadoutAmp = e }

// Coupler drives the flux pulses of one tunable coupling between qubits.
// Each cell hosts two coupler slots; coupler i attaches to cell i/2, slot
// i%2.
type Coupler struct {
	job           *Job
	index         int
	cell          *Cell
	couplingIndex int

	pulses []*Pulse
}

// Index returns the coupler's global index.
func (c *Coupler) Index() int { return c.index }

// Cell returns the hosting cell.
func (c *Coupler) Cell() *Cell { return c.cell }

// CouplingIndex returns the slot on the hosting cell, 0 or 1.
func (c *Coupler) CouplingIndex() int { return c.couplingIndex }

// Pulses returns the flux pulse table, 1-based slots.
func (c *Coupler) Pulses() []*Pulse { return c.pulses }

func (c *Coupler) String() string {
	return fmt.Sprintf("Coupler(%d)", c.index)
}

// addPulse registers a flux pulse and returns its 1-based table index.
func (c *Coupler) addPulse(p *Pulse) (int, error) {
	c.pulses = append(c.pulses, p)
	if len(c.pulses) > maxFluxPulses {
		err := newError(CodePulseTableFull, "too many flux pulses in use")
		err.Cell = c.cell.Name()
		return 0, err
	}
	return len(c.pulses), nil
}
