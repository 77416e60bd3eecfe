// Package qicode is the programming frontend of the pulse compiler.
//
// A program is built on a Job. Cells stand for the control channels of
// the hardware, one per qubit, each with a manipulation, readout and
// recording module. Commands describe pulses, recordings, waits and
// control flow against those cells; variables are runtime values lowered
// to sequencer registers later. Structured commands take their bodies as
// closures:
//
//	job := qicode.NewJob()
//	q := qicode.NewCells(job, 1)
//	v := job.TimeVariable()
//	job.ForRange(v, 0, 1e-6, 100e-9, func() {
//		job.Play(q[0], qicode.NewPulse(v))
//		job.PlayReadout(q[0], qicode.NewPulse(400e-9))
//		job.Recording(q[0], 400e-9, qicode.SaveTo("result"))
//	})
//	err := job.Seal()
//
// Types are inferred, not declared. Every expression carries a TypeInfo;
// commands and operators register implication constraints between the
// expressions they connect, and each type set fires the constraints
// depending on it. Plain int literals can be either integers or
// durations, so unresolved expressions fall back to a default type when
// the job is sealed. A conflict reports both uses that disagree.
//
// Errors accumulate on the job instead of failing fast. Construction
// continues after an error so one Seal reports everything wrong with the
// program; Seal also runs the fallback and final type checks and binds
// cells and variables to the commands using them.
//
// The package validates and orders programs but does not lower them;
// code generation consumes the sealed command tree.
package qicode
