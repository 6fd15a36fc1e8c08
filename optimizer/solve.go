package optimizer

import (
	"fmt"
	"time"

	"github.com/crillab/gophersat/solver"
)

// DefaultTimeBudget bounds the search when the caller does not supply a
// budget of their own.
const DefaultTimeBudget = 30 * time.Second

// Solve builds a model from the roster, prior pairs and settings and runs
// it. Invalid input is rejected before any search starts.
func Solve(people []Person, pairs []Pair, cfg Settings) (*Result, error) {
	m, err := NewModel(people, pairs, cfg.GroupSize, cfg.Mode)
	if err != nil {
		return nil, err
	}
	return m.Solve(cfg.TimeBudget)
}

// Solve runs the backend search under a wall-clock budget and maps the
// outcome onto a Result. The budget is the only cancellation mechanism:
// the call blocks for at most the budget plus bounded overhead, and no
// retries happen internally. A zero budget selects DefaultTimeBudget.
func (m *Model) Solve(budget time.Duration) (*Result, error) {
	if budget < 0 {
		return nil, fmt.Errorf("%w: negative time budget %v", ErrInvalidInput, budget)
	}
	if budget == 0 {
		budget = DefaultTimeBudget
	}

	pb := solver.ParsePBConstrs(m.constrs)
	if len(m.costLits) > 0 {
		pb.SetCostFunc(m.costLits, m.costWeights)
	}
	s := solver.New(pb)

	results := make(chan solver.Result)
	stop := make(chan struct{})
	timer := time.AfterFunc(budget, func() { close(stop) })
	defer timer.Stop()

	done := make(chan solver.Result, 1)
	go func() {
		done <- s.Optimal(results, stop)
	}()

	// Track the best incumbent ourselves: when the budget interrupts the
	// search, the final status is Indet and the last improving model seen
	// on the channel is the one to report.
	var incumbent *solver.Result
	for r := range results {
		r := r
		incumbent = &r
	}
	final := <-done

	switch final.Status {
	case solver.Sat:
		assignment, err := m.decode(final.Model)
		if err != nil {
			return nil, err
		}
		return &Result{Status: StatusOptimal, Assignment: assignment, Objective: final.Weight}, nil
	case solver.Unsat:
		return &Result{Status: StatusInfeasible}, nil
	default:
		if incumbent == nil {
			return &Result{Status: StatusTimedOut}, nil
		}
		assignment, err := m.decode(incumbent.Model)
		if err != nil {
			return nil, err
		}
		return &Result{Status: StatusFeasible, Assignment: assignment, Objective: incumbent.Weight}, nil
	}
}

// decode reads the winning model back into a person-to-group mapping,
// checking the exactly-one invariant on the way. A violation here is a
// backend or encoding defect and must never pass silently.
func (m *Model) decode(model []bool) (map[string]int, error) {
	assignment := make(map[string]int, len(m.people))
	for p, person := range m.people {
		group := -1
		for g := range m.groups {
			if !model[m.assignVar(p, g)-1] {
				continue
			}
			if group >= 0 {
				return nil, fmt.Errorf("%w: %q decoded into groups %d and %d", ErrInternal, person.ID, group, g)
			}
			group = g
		}
		if group < 0 {
			return nil, fmt.Errorf("%w: %q decoded into no group", ErrInternal, person.ID)
		}
		assignment[person.ID] = group
	}
	return assignment, nil
}
