package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roster(sexes ...Sex) []Person {
	people := make([]Person, len(sexes))
	for i, s := range sexes {
		people[i] = Person{ID: string(rune('a' + i)), Sex: s}
	}
	return people
}

func TestNewModelValidation(t *testing.T) {
	ok := roster(SexA, SexB)

	tests := []struct {
		name      string
		people    []Person
		pairs     []Pair
		groupSize int
		mode      Mode
	}{
		{name: "empty roster", people: nil, groupSize: 4, mode: Mixed},
		{name: "zero group size", people: ok, groupSize: 0, mode: Mixed},
		{name: "negative group size", people: ok, groupSize: -1, mode: Mixed},
		{name: "unknown mode", people: ok, groupSize: 2, mode: Mode("random")},
		{name: "unknown sex", people: []Person{{ID: "a", Sex: "X"}}, groupSize: 2, mode: Mixed},
		{name: "duplicate id", people: []Person{{ID: "a", Sex: SexA}, {ID: "a", Sex: SexB}}, groupSize: 2, mode: Mixed},
		{name: "negative pair weight", people: ok, pairs: []Pair{{A: "a", B: "b", Weight: -1}}, groupSize: 2, mode: Mixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.people, tt.pairs, tt.groupSize, tt.mode)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestGroupCountAndBounds(t *testing.T) {
	tests := []struct {
		n, groupSize   int
		groups, lo, hi int
	}{
		{10, 5, 2, 5, 5},
		{10, 4, 3, 3, 4},
		{9, 3, 3, 3, 3},
		{1, 5, 1, 1, 1},
		{7, 3, 3, 2, 3},
		{11, 4, 3, 3, 4},
	}
	for _, tt := range tests {
		people := make([]Person, tt.n)
		for i := range people {
			people[i] = Person{ID: string(rune('a' + i)), Sex: SexA}
		}
		m, err := NewModel(people, nil, tt.groupSize, Mixed)
		require.NoError(t, err)
		assert.Equal(t, tt.groups, m.Groups(), "n=%d size=%d", tt.n, tt.groupSize)
		lo, hi := m.Bounds()
		assert.Equal(t, tt.lo, lo, "n=%d size=%d", tt.n, tt.groupSize)
		assert.Equal(t, tt.hi, hi, "n=%d size=%d", tt.n, tt.groupSize)
	}
}

func TestPairResolution(t *testing.T) {
	people := roster(SexA, SexA, SexB, SexB)

	m, err := NewModel(people, []Pair{
		{A: "a", B: "b", Weight: 2},
		{A: "b", B: "a", Weight: 3}, // same unordered pair, weights sum
		{A: "a", B: "c"},            // zero weight counts as 1
		{A: "a", B: "nobody"},       // unknown id, dropped
		{A: "d", B: "d", Weight: 4}, // self pair, dropped
	}, 2, Mixed)
	require.NoError(t, err)

	require.Len(t, m.pairs, 2)
	assert.Equal(t, pairTerm{a: 0, b: 1, weight: 5}, m.pairs[0])
	assert.Equal(t, pairTerm{a: 0, b: 2, weight: 1}, m.pairs[1])
}

func TestConstraintsOwnTheirLiteralSlices(t *testing.T) {
	// The gophersat constructors may rewrite their literal slice in place
	// (LtEq negates its input to derive the at-most form), so a slice shared
	// between two constraints corrupts whichever was built first. Every
	// constraint must own its backing array.
	m, err := NewModel(roster(SexA, SexB, SexA, SexB), []Pair{{A: "a", B: "b"}}, 2, SameSex)
	require.NoError(t, err)

	seen := map[*int]int{}
	for i, c := range m.constrs {
		if len(c.Lits) == 0 {
			continue
		}
		head := &c.Lits[0]
		if j, dup := seen[head]; dup {
			t.Fatalf("constraints %d and %d share a literal slice", j, i)
		}
		seen[head] = i
	}
}

func TestNameFallsBackToParts(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", Person{FirstName: "Ada", LastName: "Lovelace"}.Name())
	assert.Equal(t, "Ada", Person{FirstName: "Ada"}.Name())
	assert.Equal(t, "", Person{}.Name())
}
