package main

import "testing"

func TestComputeMetricsStraightLine(t *testing.T) {
	_, fns := loadTestProgram(t, `
package p

func Add(a, b int) int {
	return a + b
}
`)
	fn := mustFunc(t, fns, "Add")
	m := ComputeMetrics(fn)
	if m.Blocks != 1 {
		t.Errorf("Blocks = %d, want 1 for a straight-line function", m.Blocks)
	}
	if m.CyclomaticComplexity != 1 {
		t.Errorf("CyclomaticComplexity = %d, want 1 for a single-block function", m.CyclomaticComplexity)
	}
	if m.NumParams != 2 {
		t.Errorf("NumParams = %d, want 2", m.NumParams)
	}
}

func TestComputeMetricsBranching(t *testing.T) {
	_, fns := loadTestProgram(t, `
package p

func Abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
`)
	fn := mustFunc(t, fns, "Abs")
	m := ComputeMetrics(fn)
	if m.Blocks < 2 {
		t.Errorf("Blocks = %d, want at least 2 for a branching function", m.Blocks)
	}
	if m.CyclomaticComplexity < 2 {
		t.Errorf("CyclomaticComplexity = %d, want at least 2 for one decision point", m.CyclomaticComplexity)
	}
}
