// Package optimizer assigns people to balanced fixed-size groups while
// avoiding re-pairing people who were grouped together in earlier runs.
//
// The problem is encoded as a pseudo-boolean constraint model (one boolean
// per person/group combination) and handed to the gophersat backend, which
// minimizes the weighted count of repeated pairings under hard exactly-one,
// capacity and (optionally) sex-homogeneity constraints.
package optimizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crillab/gophersat/solver"
)

// Sex is the binary category persons are normalized to before they reach
// the optimizer. Mapping source labels onto A/B is the roster layer's job.
type Sex string

const (
	SexA Sex = "A"
	SexB Sex = "B"
)

// Mode controls whether groups must be homogeneous in sex.
type Mode string

const (
	Mixed   Mode = "mixed"
	SameSex Mode = "same_sex"
)

// Status classifies the outcome of a solve.
type Status string

const (
	// StatusOptimal means a feasible assignment was found and proven to
	// minimize the objective.
	StatusOptimal Status = "optimal"
	// StatusFeasible means the time budget ran out after at least one
	// feasible assignment was found; the best incumbent is returned.
	StatusFeasible Status = "feasible"
	// StatusInfeasible means the hard constraints were proven
	// unsatisfiable.
	StatusInfeasible Status = "infeasible"
	// StatusTimedOut means the budget ran out before any feasible
	// assignment was found; the instance may or may not be solvable.
	StatusTimedOut Status = "timed_out_no_solution"
)

var (
	// ErrInvalidInput marks malformed input rejected before any model is
	// built.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInternal marks a decoded solution violating the exactly-one
	// invariant. It signals a backend or encoding defect, never bad input.
	ErrInternal = errors.New("internal solver error")
)

// Person is one roster entry. ID must be unique within a solve.
type Person struct {
	ID        string
	Sex       Sex
	FirstName string
	LastName  string
}

// Name returns the display name, first and last joined.
func (p Person) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Pair records that two people shared a group in a previous run. Weight
// scales the penalty for pairing them again; zero means unspecified and
// counts as 1. Pairs naming ids outside the roster are ignored.
type Pair struct {
	A      string
	B      string
	Weight int
}

// Settings are the caller-provided solve parameters. A zero TimeBudget
// selects DefaultTimeBudget.
type Settings struct {
	GroupSize  int
	Mode       Mode
	TimeBudget time.Duration
}

// Result is the solve outcome. Assignment maps person id to a group index
// in [0, G) and is nil unless Status is optimal or feasible. Objective is
// the weighted count of prior pairs grouped together again.
type Result struct {
	Status     Status
	Assignment map[string]int
	Objective  int
}

type pairTerm struct {
	a, b   int
	weight int
}

// Model is a built constraint model, ready to solve. Models are
// single-use snapshots of their input; nothing is shared between solves.
type Model struct {
	people  []Person
	pairs   []pairTerm
	groups  int
	lo, hi  int
	sameSex bool

	constrs     []solver.PBConstr
	costLits    []solver.Lit
	costWeights []int
}

// NewModel validates the roster and settings and builds the constraint
// model: assignment booleans, exactly-one and capacity constraints,
// sex-homogeneity when requested, symmetry breaking, and the re-pairing
// objective.
func NewModel(people []Person, pairs []Pair, groupSize int, mode Mode) (*Model, error) {
	if len(people) == 0 {
		return nil, fmt.Errorf("%w: empty roster", ErrInvalidInput)
	}
	if groupSize <= 0 {
		return nil, fmt.Errorf("%w: group size must be positive, got %d", ErrInvalidInput, groupSize)
	}
	if mode != Mixed && mode != SameSex {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}

	index := make(map[string]int, len(people))
	for i, p := range people {
		if p.Sex != SexA && p.Sex != SexB {
			return nil, fmt.Errorf("%w: person %q has sex %q, want %q or %q", ErrInvalidInput, p.ID, p.Sex, SexA, SexB)
		}
		if _, dup := index[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate person id %q", ErrInvalidInput, p.ID)
		}
		index[p.ID] = i
	}

	n := len(people)
	groups := (n + groupSize - 1) / groupSize

	m := &Model{
		people:  people,
		groups:  groups,
		lo:      n / groups,
		hi:      (n + groups - 1) / groups,
		sameSex: mode == SameSex,
	}
	if err := m.resolvePairs(pairs, index); err != nil {
		return nil, err
	}
	m.build()
	return m, nil
}

// resolvePairs maps id pairs onto roster indices, dropping pairs that
// reference unknown ids or a person paired with themselves, and merging
// duplicate unordered pairs by summing weights.
func (m *Model) resolvePairs(pairs []Pair, index map[string]int) error {
	merged := map[[2]int]int{}
	var order [][2]int
	for _, pr := range pairs {
		if pr.Weight < 0 {
			return fmt.Errorf("%w: pair (%q, %q) has negative weight %d", ErrInvalidInput, pr.A, pr.B, pr.Weight)
		}
		a, okA := index[pr.A]
		b, okB := index[pr.B]
		if !okA || !okB || a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		w := pr.Weight
		if w == 0 {
			w = 1
		}
		key := [2]int{a, b}
		if _, seen := merged[key]; !seen {
			order = append(order, key)
		}
		merged[key] += w
	}
	for _, key := range order {
		m.pairs = append(m.pairs, pairTerm{a: key[0], b: key[1], weight: merged[key]})
	}
	return nil
}

// Variable numbering (1-based, DIMACS style): assignment vars first, then
// one sex marker per group under same-sex mode, then one together var per
// prior pair.

func (m *Model) assignVar(p, g int) int {
	return p*m.groups + g + 1
}

func (m *Model) sexVar(g int) int {
	return len(m.people)*m.groups + g + 1
}

func (m *Model) togetherVar(k int) int {
	base := len(m.people) * m.groups
	if m.sameSex {
		base += m.groups
	}
	return base + k + 1
}

func (m *Model) build() {
	n := len(m.people)
	g := m.groups

	// Exactly one group per person. Fresh literal slices per constraint:
	// the constructors may rewrite them in place.
	for p := range n {
		atLeast := make([]int, g)
		atMost := make([]int, g)
		for gi := range g {
			atLeast[gi] = m.assignVar(p, gi)
			atMost[gi] = m.assignVar(p, gi)
		}
		m.constrs = append(m.constrs, solver.AtLeast(atLeast, 1), solver.AtMost(atMost, 1))
	}

	// Balanced capacity: every group holds between lo and hi people.
	for gi := range g {
		atLeast := make([]int, n)
		atMost := make([]int, n)
		for p := range n {
			atLeast[p] = m.assignVar(p, gi)
			atMost[p] = m.assignVar(p, gi)
		}
		m.constrs = append(m.constrs,
			solver.AtLeast(atLeast, m.lo),
			solver.AtMost(atMost, m.hi),
		)
	}

	// Same-sex: a marker per group records which sex occupies it, without
	// fixing the choice in advance.
	if m.sameSex {
		for gi := range g {
			marker := m.sexVar(gi)
			for p, person := range m.people {
				if person.Sex == SexA {
					m.constrs = append(m.constrs, solver.PropClause(-m.assignVar(p, gi), marker))
				} else {
					m.constrs = append(m.constrs, solver.PropClause(-m.assignVar(p, gi), -marker))
				}
			}
		}
	}

	// Symmetry breaking: group labels are interchangeable, so canonicalize
	// by lowest roster index. Person p can only open groups 0..p, which
	// keeps exactly one labeling of every distinct partition reachable.
	for p := 0; p < g && p < n; p++ {
		for gi := p + 1; gi < g; gi++ {
			m.constrs = append(m.constrs, solver.PropClause(-m.assignVar(p, gi)))
		}
	}

	// Objective: a together var per prior pair, channeled both ways so the
	// reported weight always equals a recount over the decoded assignment.
	for k, pr := range m.pairs {
		t := m.togetherVar(k)
		for gi := range g {
			xa := m.assignVar(pr.a, gi)
			xb := m.assignVar(pr.b, gi)
			m.constrs = append(m.constrs,
				solver.PropClause(-xa, -xb, t),
				solver.PropClause(-t, -xa, xb),
			)
		}
		m.costLits = append(m.costLits, solver.IntToLit(int32(t)))
		m.costWeights = append(m.costWeights, pr.weight)
	}
}

// Groups returns the number of groups the model partitions people into.
func (m *Model) Groups() int {
	return m.groups
}

// Bounds returns the per-group capacity bounds. hi-lo is at most 1.
func (m *Model) Bounds() (lo, hi int) {
	return m.lo, m.hi
}
