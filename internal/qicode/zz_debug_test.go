package qicode

import (
	"fmt"
	"testing"
)

func TestZZDebugPulseTable(t *testing.T) {
	j := NewJob()
	q := NewCells(j, 1)
	for i := 1; i <= 13; i++ {
		j.Play(q[0], NewPulse(float64(i)*4e-9))
		fmt.Printf("after play %d: table=%d err=%v\n", i, len(q[0].ManipulationPulses()), j.Err())
	}
	j.Play(q[0], NewPulse(14*4e-9))
	fmt.Printf("after play 14: table=%d err=%v\n", len(q[0].ManipulationPulses()), j.Err())
}
