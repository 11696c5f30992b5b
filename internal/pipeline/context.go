package pipeline

import "github.com/cwbudde/iconlayers/internal/compute"

// Context is the execution context a Driver threads through every stage:
// the compute device, shared across executions and read-only after
// initialization, plus the buffer bag this particular execution (or
// branch) owns.
type Context struct {
	Device compute.Device
	Bag    *Bag
}

// NewContext starts a fresh execution with an empty bag.
func NewContext(device compute.Device) *Context {
	return &Context{Device: device, Bag: NewBag()}
}

// Branch starts a new execution context that shares the compute device but
// forks the buffer bag from an already-executed prefix. Multiple branches
// may run concurrently against independent forked bags sharing the same
// read-only device.
func (c *Context) Branch() *Context {
	return &Context{Device: c.Device, Bag: c.Bag.Fork()}
}
