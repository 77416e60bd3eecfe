package sequencer

import (
	"sort"

	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/units"
)

// parallelEvent is one pulse of a parallel section placed on the cell's
// timeline, in cycles from the section start.
type parallelEvent struct {
	start  int64
	module int
	index  int
	hold   bool
	end    int64
	rec    *qicode.RecordingCommand
}

// parallel lowers a parallel section. The entries of the section run
// concurrently on each cell, so their pulses are merged onto one timeline
// and re-emitted as a sequence of combined triggers.
func (b *builder) parallel(c *qicode.ParallelCommand) {
	cells := b.relevantCells(c)
	b.syncCells(cells, syncPoint{syncBeforeParallel, c})
	for _, cell := range cells {
		b.parallelCell(b.seqs[cell], cell, c.Entries())
	}
}

// parallelCell places the section's pulses for one cell and emits a trigger
// per boundary. A boundary is a time where a pulse starts or a holding
// pulse must be choked. Triggers are paced by the distance to the next
// boundary instead of by pulse lengths, so overlapping pulses keep their
// offsets.
func (b *builder) parallelCell(seq *Sequencer, cell *qicode.Cell, entries [][]qicode.Command) {
	var events []parallelEvent
	var sectionEnd int64
	for _, entry := range entries {
		var cursor int64
		for _, cmd := range entry {
			if !commandTouches(cmd, cell) {
				continue
			}
			switch c := cmd.(type) {
			case *qicode.WaitCommand:
				d, ok := seq.cycleLength(c.Length())
				if !ok {
					return
				}
				cursor += d
			case *qicode.PlayCommand:
				d, ok := seq.cycleLength(c.Length())
				if !ok {
					return
				}
				events = append(events, parallelEvent{
					start:  cursor,
					module: moduleManipulation,
					index:  c.TableIndex(),
					hold:   c.Pulse().Hold(),
					end:    cursor + d,
				})
				cursor += d
			case *qicode.RotateFrameCommand:
				d, ok := seq.cycleLength(c.Length())
				if !ok {
					return
				}
				events = append(events, parallelEvent{
					start:  cursor,
					module: moduleManipulation,
					index:  c.TableIndex(),
					end:    cursor + d,
				})
				cursor += d
			case *qicode.PlayReadoutCommand:
				d, ok := seq.cycleLength(c.Length())
				if !ok {
					return
				}
				events = append(events, parallelEvent{
					start:  cursor,
					module: moduleReadout,
					index:  c.TableIndex(),
					hold:   c.Pulse().Hold(),
					end:    cursor + d,
					rec:    c.Recording(),
				})
				busy := d
				if rec := c.Recording(); rec != nil {
					rd, ok := seq.cycleLength(rec.Length())
					if !ok {
						return
					}
					rd += recordingDelayCycles
					if rd > busy {
						busy = rd
					}
				}
				cursor += busy
			case *qicode.RecordingCommand:
				rd, ok := seq.cycleLength(c.Length())
				if !ok {
					return
				}
				rd += recordingDelayCycles
				events = append(events, parallelEvent{
					start:  cursor,
					module: moduleRecording,
					end:    cursor + rd,
					rec:    c,
				})
				cursor += rd
			}
			if seq.err != nil {
				return
			}
		}
		if cursor > sectionEnd {
			sectionEnd = cursor
		}
	}

	if len(events) == 0 {
		if sectionEnd > 0 {
			seq.waitCycles(sectionEnd)
		}
		return
	}

	marks := make(map[int64]struct{})
	for _, ev := range events {
		marks[ev.start] = struct{}{}
		if ev.hold && ev.end < sectionEnd {
			marks[ev.end] = struct{}{}
		}
	}
	boundaries := make([]int64, 0, len(marks))
	for t := range marks {
		boundaries = append(boundaries, t)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] })

	var prev int64
	for k, t := range boundaries {
		var spec triggerSpec
		content := false
		for _, ev := range events {
			if ev.start != t {
				continue
			}
			switch ev.module {
			case moduleManipulation:
				spec.manipulation = &playSpec{index: ev.index}
			case moduleReadout:
				spec.readout = &playSpec{index: ev.index}
				spec.recording = ev.rec
			case moduleRecording:
				spec.recording = ev.rec
			}
			content = true
		}
		for _, ev := range events {
			if !ev.hold || ev.end != t || t >= sectionEnd {
				continue
			}
			switch ev.module {
			case moduleManipulation:
				if spec.manipulation == nil {
					spec.manipulation = &playSpec{index: chokePulseIndex}
					content = true
				}
			case moduleReadout:
				if spec.readout == nil {
					spec.readout = &playSpec{index: chokePulseIndex}
					content = true
				}
			}
		}
		if !content {
			continue
		}
		if t > prev {
			seq.waitCycles(t - prev)
		}
		next := sectionEnd
		if k+1 < len(boundaries) {
			next = boundaries[k+1]
		}
		spec.slotCycles = next - t
		spec.noRecordingDelay = true
		seq.addTriggerCmd(spec)
		prev = next
	}
	if sectionEnd > prev {
		seq.waitCycles(sectionEnd - prev)
	}
}

// cycleLength resolves a pulse length to whole cycles. Parallel timelines
// need every length at build time, variable lengths can not be placed.
func (s *Sequencer) cycleLength(e qicode.Expression) (int64, bool) {
	sec, ok := s.lengthSeconds(e)
	if !ok {
		if s.err == nil {
			s.failf(qicode.CodeConcurrentVarLength,
				"variable lengths are not supported inside parallel sections")
		}
		return 0, false
	}
	return units.TimeToCycles(sec, units.RoundCeil), true
}
