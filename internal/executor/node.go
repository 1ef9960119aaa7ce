package executor

import (
	"sync"
	"sync/atomic"
)

// State is the execution state of a task.
type State int32

const (
	// Pending tasks wait for their dependencies.
	Pending State = iota
	// Running tasks are held by a worker.
	Running
	// Done tasks completed successfully.
	Done
	// Failed tasks returned an error.
	Failed
	// Skipped tasks never ran because of an earlier failure.
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// node is one task plus its scheduling state.
type node struct {
	name       string
	deps       []*node
	dependents []*node

	err error

	// depCount is the number of unfinished dependencies.
	depCount atomic.Int32
	state    atomic.Int32
	// finishOnce guards the WaitGroup release so a task is accounted for once,
	// whether it ran or was skipped.
	finishOnce sync.Once
}

func (n *node) setState(s State) { n.state.Store(int32(s)) }

func (n *node) getState() State { return State(n.state.Load()) }

// skip marks the node skipped and releases it from wg. It reports whether
// this call did the skipping.
func (n *node) skip(err error, wg *sync.WaitGroup) bool {
	skipped := false
	n.finishOnce.Do(func() {
		n.setState(Skipped)
		n.err = err
		wg.Done()
		skipped = true
	})
	return skipped
}

// finish records the outcome of a task that ran.
func (n *node) finish(err error, wg *sync.WaitGroup) {
	n.finishOnce.Do(func() {
		if err != nil {
			n.setState(Failed)
			n.err = err
		} else {
			n.setState(Done)
		}
		wg.Done()
	})
}
