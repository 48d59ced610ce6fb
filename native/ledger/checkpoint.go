package ledger

import (
	nativecommon "nhbledger/native/common"
)

// CycleState is the checkpoint lock state.
type CycleState uint8

const (
	CycleOpen CycleState = iota
	CycleInProgress
)

func (s CycleState) String() string {
	if s == CycleInProgress {
		return "in_cycle"
	}
	return "open"
}

// Checkpoint excludes concurrent cycles and records which positions were
// touched while a cycle is running. The touched set holds ids only.
type Checkpoint struct {
	state   CycleState
	touched nativecommon.IndexedSet[PositionID]
}

// State returns the current lock state.
func (c *Checkpoint) State() CycleState { return c.state }

// InCycle reports whether a cycle is running.
func (c *Checkpoint) InCycle() bool { return c.state == CycleInProgress }

// Begin enters a cycle, rejecting nested entry.
func (c *Checkpoint) Begin() error {
	if c.state == CycleInProgress {
		return ErrReentrantCycle
	}
	c.state = CycleInProgress
	c.touched.Clear()
	return nil
}

// Mark records id as touched. Repeated marks and marks outside a cycle are
// no-ops.
func (c *Checkpoint) Mark(id PositionID) {
	if c.state != CycleInProgress {
		return
	}
	c.touched.Insert(id)
}

// Touched returns the touched ids in insertion order.
func (c *Checkpoint) Touched() []PositionID { return c.touched.Keys() }

// Finish drains the touched set and reopens the lock.
func (c *Checkpoint) Finish() {
	c.touched.Clear()
	c.state = CycleOpen
}
