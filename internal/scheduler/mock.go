package scheduler

import (
	"context"
	"fmt"
)

// Step scripts one Mock.Suspend call's outcome, in call order.
type Step struct {
	At    Point
	Value interface{}
	Err   error
}

// Mock is a single-threaded, deterministic Scheduler for replay tests: each
// Suspend call consumes the next scripted Step instead of invoking fn,
// reproducing exact message orderings like spec.md §8's maker-replacement
// (Scenario 2), bad-verifier (Scenario 3), and cross-channel-replay
// (Scenario 5) scenarios without any goroutine races.
type Mock struct {
	steps []Step
	pos   int
	log   []Point
}

// NewMock builds a Mock that plays back steps in order.
func NewMock(steps []Step) *Mock {
	return &Mock{steps: steps}
}

// Suspend ignores fn and returns the next scripted step's value/error,
// failing loudly if the suspension point visited doesn't match the script
// or the script is exhausted — a replay test should know its exact shape.
func (m *Mock) Suspend(ctx context.Context, at Point, fn func() (interface{}, error)) (interface{}, error) {
	m.log = append(m.log, at)

	if m.pos >= len(m.steps) {
		return nil, fmt.Errorf("scheduler: mock script exhausted at suspension point %q", at)
	}
	step := m.steps[m.pos]
	m.pos++

	if step.At != at {
		return nil, fmt.Errorf("scheduler: mock script expected suspension point %q, got %q", step.At, at)
	}
	return step.Value, step.Err
}

// Visited returns every suspension point hit so far, in order — a replay
// test asserts against this to confirm the task took the expected path.
func (m *Mock) Visited() []Point {
	return append([]Point{}, m.log...)
}

// Done reports whether every scripted step has been consumed.
func (m *Mock) Done() bool {
	return m.pos == len(m.steps)
}
