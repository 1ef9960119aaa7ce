// Package executor runs a set of dependent tasks on a bounded worker pool,
// starting each task only after all of its dependencies succeeded. The first
// failure cancels the run and every task that has not started is skipped.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/monorelease/internal/ctxlog"
)

// Task names a unit of work and the tasks it waits for. Dependencies that are
// not part of the same run are ignored.
type Task struct {
	Name string
	Deps []string
}

// Func performs one task.
type Func func(ctx context.Context, name string) error

// Result is the outcome of one task.
type Result struct {
	Name  string
	State State
	Err   error
}

// Executor schedules tasks. It is single use.
type Executor struct {
	nodes      []*node
	numWorkers int
	run        Func
	wg         sync.WaitGroup
}

// New builds an executor for tasks. Task names must be unique.
func New(tasks []Task, numWorkers int, run Func) (*Executor, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	byName := make(map[string]*node, len(tasks))
	e := &Executor{numWorkers: numWorkers, run: run}
	for _, t := range tasks {
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		}
		n := &node{name: t.Name}
		byName[t.Name] = n
		e.nodes = append(e.nodes, n)
	}
	for _, t := range tasks {
		n := byName[t.Name]
		for _, d := range t.Deps {
			dep, ok := byName[d]
			if !ok || dep == n {
				continue
			}
			n.deps = append(n.deps, dep)
			dep.dependents = append(dep.dependents, n)
		}
		n.depCount.Store(int32(len(n.deps)))
	}
	return e, nil
}

// Run executes every task and returns one Result per task in input order. The
// error names the tasks that failed and wraps the first failure.
func (e *Executor) Run(ctx context.Context) ([]Result, error) {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *node, len(e.nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rootCount := 0
	for _, n := range e.nodes {
		if n.depCount.Load() == 0 {
			readyChan <- n
			rootCount++
		}
	}
	logger.Debug("Found root tasks.", "count", rootCount, "total", len(e.nodes))

	e.wg.Add(len(e.nodes))
	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(runCtx, readyChan, cancel, i)
	}
	e.wg.Wait()
	close(readyChan)

	results := make([]Result, 0, len(e.nodes))
	var failed []string
	var rootCause error
	for _, n := range e.nodes {
		results = append(results, Result{Name: n.name, State: n.getState(), Err: n.err})
		if n.getState() != Failed || errors.Is(n.err, context.Canceled) {
			continue
		}
		failed = append(failed, n.name)
		if rootCause == nil {
			rootCause = n.err
		}
	}
	if rootCause != nil {
		return results, fmt.Errorf("execution failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// skipDependents marks everything downstream of n as skipped.
func (e *Executor) skipDependents(ctx context.Context, n *node) {
	logger := ctxlog.FromContext(ctx)
	queue := []*node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dependent := range cur.dependents {
			if dependent.skip(fmt.Errorf("skipped due to upstream failure of %q", n.name), &e.wg) {
				logger.Warn("Skipping task due to upstream failure.", "task", dependent.name, "dependency", n.name)
				queue = append(queue, dependent)
			}
		}
	}
}
