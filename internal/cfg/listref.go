package cfg

import (
	"fmt"

	"github.com/quantuminterface/qicode/internal/qicode"
)

type listKind uint8

const (
	listJob listKind = iota
	listIfBody
	listIfElse
	listForBody
)

// ListRef identifies one command list of a job: the top level stream or
// the body of a structured command. It is comparable, so passes can batch
// insertions per list and apply them back to front without invalidating
// the indices of earlier batches.
type ListRef struct {
	kind  listKind
	owner qicode.Command
}

// JobList refers to the job's top level command stream.
func JobList() ListRef { return ListRef{kind: listJob} }

// IfBody refers to the body of an If command.
func IfBody(c *qicode.IfCommand) ListRef { return ListRef{kind: listIfBody, owner: c} }

// IfElse refers to the else body of an If command.
func IfElse(c *qicode.IfCommand) ListRef { return ListRef{kind: listIfElse, owner: c} }

// ForBody refers to the body of a ForRange command.
func ForBody(c *qicode.ForRangeCommand) ListRef { return ListRef{kind: listForBody, owner: c} }

// Commands returns the current contents of the referenced list.
func (r ListRef) Commands(j *qicode.Job) []qicode.Command {
	switch r.kind {
	case listJob:
		return j.Commands()
	case listIfBody:
		return r.owner.(*qicode.IfCommand).Body()
	case listIfElse:
		return r.owner.(*qicode.IfCommand).ElseBody()
	case listForBody:
		return r.owner.(*qicode.ForRangeCommand).Body()
	}
	return nil
}

// Insert places cmds at position i of the referenced list.
func (r ListRef) Insert(j *qicode.Job, i int, cmds ...qicode.Command) {
	switch r.kind {
	case listJob:
		j.InsertCommands(i, cmds...)
	case listIfBody:
		r.owner.(*qicode.IfCommand).InsertBody(i, cmds...)
	case listIfElse:
		r.owner.(*qicode.IfCommand).InsertElse(i, cmds...)
	case listForBody:
		r.owner.(*qicode.ForRangeCommand).InsertBody(i, cmds...)
	}
}

func (r ListRef) String() string {
	switch r.kind {
	case listJob:
		return "job"
	case listIfBody:
		return fmt.Sprintf("if_body(%p)", r.owner)
	case listIfElse:
		return fmt.Sprintf("if_else(%p)", r.owner)
	case listForBody:
		return fmt.Sprintf("for_body(%p)", r.owner)
	}
	return fmt.Sprintf("ListRef(%d)", r.kind)
}
