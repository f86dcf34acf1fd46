package vm

import "time"

// Metrics tracks run-loop statistics across the lifetime of an
// Interpreter (§3/SPEC_FULL supplement, grounded on the original's
// interpreter/mod.rs Metrics struct).
type Metrics struct {
	InstructionsExecuted uint64
	MaxCallStackDepth     int
	TotalRunTime          time.Duration
	LastRunTime           time.Duration
}
