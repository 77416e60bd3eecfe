package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative compiler test case. It describes a job the way
// a user would write one, the sample it resolves against, and the outcome
// the compiled programs have to show.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Cells is the number of cells the job addresses.
	Cells int `yaml:"cells"`

	// Couplers is the number of couplers, at most twice the cell count.
	Couplers int `yaml:"couplers,omitempty"`

	// Sample provides property values the job resolves against. Without
	// one, property references fail the compile.
	Sample *SampleSpec `yaml:"sample,omitempty"`

	// CellMap assigns each job cell a sample cell. Defaults to identity.
	CellMap []int `yaml:"cell_map,omitempty"`

	// Options adjusts job-level compile behavior.
	Options OptionsSpec `yaml:"options,omitempty"`

	// Variables declares the named variables the script refers to.
	Variables []VariableSpec `yaml:"variables,omitempty"`

	// Script is the command sequence of the job. Control-flow steps nest
	// further steps in their then/else/body/parallel lists.
	Script []Step `yaml:"script"`

	// Expect states the required outcome. An empty clause only requires
	// the compile to succeed.
	Expect Expectations `yaml:"expect,omitempty"`
}

// SampleSpec mirrors the sample file format: per-cell property maps plus an
// optional map from sample cells to controller cells.
type SampleSpec struct {
	Cells   []map[string]float64 `yaml:"cells"`
	CellMap []int                `yaml:"cell_map,omitempty"`
}

// OptionsSpec carries the job options a scenario can set.
type OptionsSpec struct {
	// SkipNCOSync drops the oscillator sync preamble.
	SkipNCOSync bool `yaml:"skip_nco_sync,omitempty"`

	// NCOSyncDelay overrides the sync settle time in seconds.
	NCOSyncDelay *float64 `yaml:"nco_sync_delay,omitempty"`
}

// VariableSpec declares a named job variable.
type VariableSpec struct {
	Name string `yaml:"name"`

	// Type is one of int, time, frequency, phase, amplitude, state.
	// Empty leaves the type to inference.
	Type string `yaml:"type,omitempty"`
}

// Step holds exactly one command. The populated field selects the kind.
type Step struct {
	Play        *PulseStep     `yaml:"play,omitempty"`
	PlayReadout *PulseStep     `yaml:"play_readout,omitempty"`
	PlayFlux    *FluxStep      `yaml:"play_flux,omitempty"`
	RotateFrame *RotateStep    `yaml:"rotate_frame,omitempty"`
	Wait        *WaitStep      `yaml:"wait,omitempty"`
	Recording   *RecordingStep `yaml:"recording,omitempty"`
	Trigger     *TriggerStep   `yaml:"digital_trigger,omitempty"`
	Assign      *AssignStep    `yaml:"assign,omitempty"`
	Sync        *SyncStep      `yaml:"sync,omitempty"`
	If          *IfStep        `yaml:"if,omitempty"`
	For         *ForStep       `yaml:"for,omitempty"`
	Parallel    [][]Step       `yaml:"parallel,omitempty"`
}

// PulseStep plays a pulse on a cell's manipulation or readout channel.
type PulseStep struct {
	Cell      int    `yaml:"cell"`
	Length    Value  `yaml:"length,omitempty"`
	Amplitude *Value `yaml:"amplitude,omitempty"`
	Frequency *Value `yaml:"frequency,omitempty"`
	Phase     *Value `yaml:"phase,omitempty"`
	Shape     string `yaml:"shape,omitempty"`

	// Hold keeps the pulse playing past its length until choked.
	Hold bool `yaml:"hold,omitempty"`

	// Continuous plays until explicitly stopped; excludes a length.
	Continuous bool `yaml:"continuous,omitempty"`
}

// FluxStep plays a pulse on a coupler's flux channel.
type FluxStep struct {
	Coupler int    `yaml:"coupler"`
	Length  Value  `yaml:"length,omitempty"`
	Shape   string `yaml:"shape,omitempty"`
	Hold    bool   `yaml:"hold,omitempty"`

	Continuous bool `yaml:"continuous,omitempty"`
}

// RotateStep turns a cell's manipulation frame by an angle in radians.
type RotateStep struct {
	Cell    int     `yaml:"cell"`
	Radians float64 `yaml:"radians"`
}

// WaitStep idles a cell for a duration.
type WaitStep struct {
	Cell   int   `yaml:"cell"`
	Length Value `yaml:"length"`
}

// RecordingStep opens a recording window on a cell.
type RecordingStep struct {
	Cell   int    `yaml:"cell"`
	Length Value  `yaml:"length"`
	Offset *Value `yaml:"offset,omitempty"`

	// SaveTo names the result box the window stores into.
	SaveTo string `yaml:"save_to,omitempty"`

	// StateTo names a state variable receiving the discriminated qubit
	// state instead of raw samples.
	StateTo string `yaml:"state_to,omitempty"`

	// ToggleContinuous switches continuous recording on or off.
	ToggleContinuous *bool `yaml:"toggle_continuous,omitempty"`
}

// TriggerStep raises digital marker outputs for a duration.
type TriggerStep struct {
	Cell    int     `yaml:"cell"`
	Length  float64 `yaml:"length"`
	Outputs []int   `yaml:"outputs"`
}

// AssignStep writes a value into a variable. Exactly one of value, add or
// sub is set; add and sub take two operands.
type AssignStep struct {
	Var   string  `yaml:"var"`
	Value *Value  `yaml:"value,omitempty"`
	Add   []Value `yaml:"add,omitempty"`
	Sub   []Value `yaml:"sub,omitempty"`
}

// SyncStep aligns cells to a common point in time. An empty cell list
// means every cell of the job.
type SyncStep struct {
	Cells []int `yaml:"cells,omitempty"`
}

// IfStep branches on a comparison between a variable and a value.
type IfStep struct {
	Var   string `yaml:"var"`
	Op    string `yaml:"op"`
	Value Value  `yaml:"value"`
	Then  []Step `yaml:"then"`
	Else  []Step `yaml:"else,omitempty"`
}

// ForStep sweeps a variable over a range, running the body once per value.
type ForStep struct {
	Var   string `yaml:"var"`
	Start Value  `yaml:"start"`
	End   Value  `yaml:"end"`
	Step  Value  `yaml:"step"`
	Body  []Step `yaml:"body"`
}

// Comparison operators accepted by if steps.
var compareOps = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
}

// Expectations states the required compile outcome.
type Expectations struct {
	// Error is the diagnostic code the compile has to fail with, for
	// example "QIC303". Empty means the compile has to succeed.
	Error string `yaml:"error,omitempty"`

	// Diagnostics lists codes that have to appear as warnings or notes.
	Diagnostics []string `yaml:"diagnostics,omitempty"`

	// ResultOrder gives the expected result box sequence per controller
	// cell.
	ResultOrder map[int][]string `yaml:"result_order,omitempty"`

	// Listing gives the expected assembly lines per controller cell.
	Listing map[int][]string `yaml:"listing,omitempty"`
}

// Value is a scalar operand in a step. Numbers are literals; the string
// forms "var:NAME" and "prop:NAME" reference a declared variable or a
// sample property of the step's cell.
type Value struct {
	lit   float64
	isInt bool
	isSet bool
	ref   string
	name  string
}

// IntValue returns a literal integer Value.
func IntValue(n int) Value { return Value{lit: float64(n), isInt: true, isSet: true} }

// FloatValue returns a literal float Value.
func FloatValue(f float64) Value { return Value{lit: f, isSet: true} }

// VarRef returns a Value referencing a declared variable.
func VarRef(name string) Value { return Value{ref: "var", name: name, isSet: true} }

// PropRef returns a Value referencing a sample property of the step's cell.
func PropRef(name string) Value { return Value{ref: "prop", name: name, isSet: true} }

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!!int":
		var n int
		if err := node.Decode(&n); err != nil {
			return err
		}
		*v = IntValue(n)
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = FloatValue(f)
	case "!!str":
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		kind, name, ok := strings.Cut(s, ":")
		if !ok || name == "" {
			return fmt.Errorf("value %q needs to be a number, var:NAME or prop:NAME", s)
		}
		switch kind {
		case "var":
			*v = VarRef(name)
		case "prop":
			*v = PropRef(name)
		default:
			return fmt.Errorf("value %q needs to be a number, var:NAME or prop:NAME", s)
		}
	default:
		return fmt.Errorf("value needs to be a number, var:NAME or prop:NAME, got %s", node.Tag)
	}
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	switch {
	case v.ref != "":
		return v.ref + ":" + v.name, nil
	case v.isInt:
		return int(v.lit), nil
	default:
		return v.lit, nil
	}
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as parse errors instead of silent no-ops.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Cells <= 0 {
		return fmt.Errorf("cells needs to be positive")
	}
	if s.Couplers < 0 || s.Couplers > 2*s.Cells {
		return fmt.Errorf("couplers needs to be between 0 and twice the cell count")
	}
	if len(s.Script) == 0 {
		return fmt.Errorf("script is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Variables))
	for i, vs := range s.Variables {
		if vs.Name == "" {
			return fmt.Errorf("variables[%d]: name is required", i)
		}
		if seen[vs.Name] {
			return fmt.Errorf("variables[%d]: duplicate name %q", i, vs.Name)
		}
		seen[vs.Name] = true
		switch vs.Type {
		case "", "int", "time", "frequency", "phase", "amplitude", "state":
		default:
			return fmt.Errorf("variables[%d]: unknown type %q", i, vs.Type)
		}
	}

	if s.Sample != nil && len(s.Sample.Cells) == 0 {
		return fmt.Errorf("sample: cells list is required and must be non-empty")
	}

	return validateSteps("script", s.Script)
}

func validateSteps(path string, steps []Step) error {
	for i, step := range steps {
		if err := validateStep(fmt.Sprintf("%s[%d]", path, i), step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(path string, s Step) error {
	n := 0
	for _, set := range []bool{
		s.Play != nil, s.PlayReadout != nil, s.PlayFlux != nil,
		s.RotateFrame != nil, s.Wait != nil, s.Recording != nil,
		s.Trigger != nil, s.Assign != nil, s.Sync != nil,
		s.If != nil, s.For != nil, s.Parallel != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%s: step needs exactly one command, has %d", path, n)
	}

	switch {
	case s.Play != nil:
		return validatePulse(path+".play", s.Play)
	case s.PlayReadout != nil:
		return validatePulse(path+".play_readout", s.PlayReadout)
	case s.PlayFlux != nil:
		if s.PlayFlux.Continuous == s.PlayFlux.Length.isSet {
			return fmt.Errorf("%s.play_flux: needs either a length or continuous", path)
		}
	case s.Wait != nil:
		if !s.Wait.Length.isSet {
			return fmt.Errorf("%s.wait: length is required", path)
		}
	case s.Recording != nil:
		if !s.Recording.Length.isSet {
			return fmt.Errorf("%s.recording: length is required", path)
		}
	case s.Trigger != nil:
		if len(s.Trigger.Outputs) == 0 {
			return fmt.Errorf("%s.digital_trigger: outputs list is required", path)
		}
	case s.Assign != nil:
		return validateAssign(path+".assign", s.Assign)
	case s.If != nil:
		return validateIf(path+".if", s.If)
	case s.For != nil:
		return validateFor(path+".for", s.For)
	case s.Parallel != nil:
		if len(s.Parallel) < 2 {
			return fmt.Errorf("%s.parallel: needs at least two branches", path)
		}
		for i, branch := range s.Parallel {
			if len(branch) == 0 {
				return fmt.Errorf("%s.parallel[%d]: branch must be non-empty", path, i)
			}
			if err := validateSteps(fmt.Sprintf("%s.parallel[%d]", path, i), branch); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePulse(path string, p *PulseStep) error {
	if p.Continuous == p.Length.isSet {
		return fmt.Errorf("%s: needs either a length or continuous", path)
	}
	return nil
}

func validateAssign(path string, a *AssignStep) error {
	if a.Var == "" {
		return fmt.Errorf("%s: var is required", path)
	}
	forms := 0
	if a.Value != nil {
		forms++
	}
	if a.Add != nil {
		forms++
	}
	if a.Sub != nil {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("%s: needs exactly one of value, add or sub", path)
	}
	if a.Add != nil && len(a.Add) != 2 {
		return fmt.Errorf("%s: add needs exactly two operands", path)
	}
	if a.Sub != nil && len(a.Sub) != 2 {
		return fmt.Errorf("%s: sub needs exactly two operands", path)
	}
	return nil
}

func validateIf(path string, c *IfStep) error {
	if c.Var == "" {
		return fmt.Errorf("%s: var is required", path)
	}
	if !compareOps[c.Op] {
		return fmt.Errorf("%s: unknown comparison %q", path, c.Op)
	}
	if !c.Value.isSet {
		return fmt.Errorf("%s: value is required", path)
	}
	if c.Value.ref == "prop" {
		return fmt.Errorf("%s: conditions cannot reference properties", path)
	}
	if len(c.Then) == 0 {
		return fmt.Errorf("%s: then list is required and must be non-empty", path)
	}
	if err := validateSteps(path+".then", c.Then); err != nil {
		return err
	}
	return validateSteps(path+".else", c.Else)
}

func validateFor(path string, f *ForStep) error {
	if f.Var == "" {
		return fmt.Errorf("%s: var is required", path)
	}
	for _, bound := range []struct {
		name string
		v    Value
	}{{"start", f.Start}, {"end", f.End}, {"step", f.Step}} {
		if !bound.v.isSet {
			return fmt.Errorf("%s: %s is required", path, bound.name)
		}
		if bound.v.ref == "prop" {
			return fmt.Errorf("%s: %s cannot reference properties", path, bound.name)
		}
	}
	if len(f.Body) == 0 {
		return fmt.Errorf("%s: body list is required and must be non-empty", path)
	}
	return validateSteps(path+".body", f.Body)
}
