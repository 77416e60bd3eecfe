package qicode

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SampleCell holds the calibrated properties of one qubit: named values
// like t1 times, pulse lengths or readout frequencies that jobs reference
// through cell properties.
type SampleCell struct {
	index      int
	properties map[string]float64
}

// Index returns the position of the cell within its sample.
func (sc *SampleCell) Index() int { return sc.index }

// Set stores a property value.
func (sc *SampleCell) Set(key string, value float64) {
	if sc.properties == nil {
		sc.properties = make(map[string]float64)
	}
	sc.properties[key] = value
}

// Get reads a property value.
func (sc *SampleCell) Get(key string) (float64, bool) {
	v, ok := sc.properties[key]
	return v, ok
}

// Properties returns a copy of all property values.
func (sc *SampleCell) Properties() map[string]float64 {
	out := make(map[string]float64, len(sc.properties))
	for k, v := range sc.properties {
		out[k] = v
	}
	return out
}

func (sc *SampleCell) String() string {
	keys := make([]string, 0, len(sc.properties))
	for k := range sc.properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %g", k, sc.properties[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Sample is the experiment sample a job compiles against: one property set
// per qubit plus the mapping from sample cells to physical controller
// cells. Samples are defined outside jobs and passed in at build time.
type Sample struct {
	cells   []*SampleCell
	cellMap []int
}

// NewSample creates a sample with the given number of cells, mapped onto
// controller cells 0..n-1.
func NewSample(n int) *Sample {
	s := &Sample{cells: make([]*SampleCell, n), cellMap: make([]int, n)}
	for i := range s.cells {
		s.cells[i] = &SampleCell{index: i}
		s.cellMap[i] = i
	}
	return s
}

// Cell returns the sample cell at the given index.
func (s *Sample) Cell(i int) *SampleCell { return s.cells[i] }

// Len returns the number of cells.
func (s *Sample) Len() int { return len(s.cells) }

// CellMap returns the sample-to-controller cell mapping.
func (s *Sample) CellMap() []int { return s.cellMap }

// SetCellMap replaces the sample-to-controller mapping. Every sample cell
// needs exactly one distinct, non-negative controller cell.
func (s *Sample) SetCellMap(cellMap []int) error {
	if len(cellMap) != len(s.cells) {
		return newError(CodeCellMapInvalid,
			"cell_map needs as many entries as there are cells, but %d entries given and %d required",
			len(cellMap), len(s.cells))
	}
	seen := make(map[int]struct{}, len(cellMap))
	for _, c := range cellMap {
		if c < 0 {
			return newError(CodeCellMapInvalid, "cell indices inside cell_map can not be negative")
		}
		if _, dup := seen[c]; dup {
			return newError(CodeCellMapInvalid, "duplicate values are not allowed in cell_map")
		}
		seen[c] = struct{}{}
	}
	s.cellMap = append([]int(nil), cellMap...)
	return nil
}

// ArrangeForController inverts the cell map: slot i holds the sample cell
// mapped to controller cell i, nil where no cell maps.
func (s *Sample) ArrangeForController() []*SampleCell {
	max := -1
	for _, c := range s.cellMap {
		if c > max {
			max = c
		}
	}
	out := make([]*SampleCell, max+1)
	for i, c := range s.cellMap {
		out[c] = s.cells[i]
	}
	return out
}

func (s *Sample) String() string {
	parts := make([]string, len(s.cells))
	for i, c := range s.cells {
		parts[i] = c.String()
	}
	return fmt.Sprintf("Sample(cells=[%s], cell_map=%v)", strings.Join(parts, ", "), s.cellMap)
}

// ResolveJob copies referenced property values into the job's cells.
// cellMap assigns each job cell one of the sample's cells; nil means the
// identity mapping. Cells without property references resolve against
// nothing and never fail.
func (s *Sample) ResolveJob(j *Job, cellMap []int) error {
	for i, cell := range j.Cells() {
		if !cell.HasUnresolvedProperties() {
			continue
		}
		m := i
		if cellMap != nil {
			if i >= len(cellMap) {
				return newError(CodeCellMapInvalid,
					"cell %d of the job has unresolved properties but no sample cell is mapped to it", i)
			}
			m = cellMap[i]
		}
		if m < 0 || m >= len(s.cells) {
			return newError(CodeCellMapInvalid,
				"cell %d of the job has unresolved properties but no sample cell is mapped to it", i)
		}
		if err := cell.resolveProperties(s.cells[m]); err != nil {
			return err
		}
	}
	return nil
}

// sampleFile is the on-disk form. YAML subsumes the JSON files older tools
// wrote, so one decoder reads both.
type sampleFile struct {
	Cells   []map[string]float64 `yaml:"cells"`
	CellMap []int                `yaml:"cell_map,omitempty"`
}

// LoadSample reads a sample description from a YAML or JSON file.
func LoadSample(path string) (*Sample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}
	return ParseSample(raw)
}

// ParseSample decodes a sample description.
func ParseSample(raw []byte) (*Sample, error) {
	var file sampleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sample: %w", err)
	}
	if file.Cells == nil {
		return nil, fmt.Errorf("parse sample: missing cells")
	}
	s := NewSample(len(file.Cells))
	for i, props := range file.Cells {
		for k, v := range props {
			s.cells[i].Set(k, v)
		}
	}
	if file.CellMap != nil {
		if err := s.SetCellMap(file.CellMap); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Save writes the sample as YAML.
func (s *Sample) Save(path string) error {
	file := sampleFile{
		Cells:   make([]map[string]float64, len(s.cells)),
		CellMap: s.cellMap,
	}
	for i, c := range s.cells {
		file.Cells[i] = c.Properties()
	}
	raw, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("save sample: %w", err)
	}
	return nil
}

// Result names a stream of recorded values. Recording commands that save
// to the same name share the container; the recording simulator assigns
// each its slot in the acquisition order.
type Result struct {
	name string
	cell *Cell

	// recordings counts how many recording commands feed this result per
	// shot.
	recordings int
}

// Name returns the result name.
func (r *Result) Name() string { return r.name }

// Cell returns the owning cell.
func (r *Result) Cell() *Cell { return r.cell }

// Recordings returns how many recordings feed the result in one shot.
func (r *Result) Recordings() int { return r.recordings }

func (r *Result) String() string {
	return fmt.Sprintf("Result(%q)", r.name)
}
