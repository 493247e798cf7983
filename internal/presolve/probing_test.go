package presolve

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rhartert/bop/internal/sat"
)

func TestFindStronglyConnectedComponents(t *testing.T) {
	testCases := []struct {
		desc     string
		numNodes int
		edges    map[int][]int
		want     [][]int
	}{
		{
			desc:     "no edge",
			numNodes: 3,
			edges:    map[int][]int{},
			want:     [][]int{{0}, {1}, {2}},
		},
		{
			desc:     "two cycles",
			numNodes: 4,
			edges:    map[int][]int{0: {1}, 1: {0}, 2: {3}, 3: {2}},
			want:     [][]int{{1, 0}, {3, 2}},
		},
		{
			desc:     "cycle with a tail",
			numNodes: 4,
			edges:    map[int][]int{0: {1}, 1: {2}, 2: {0}, 3: {0}},
			want:     [][]int{{2, 1, 0}, {3}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := findStronglyConnectedComponents(tc.numNodes, func(n int) []int {
				return tc.edges[n]
			})
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("components mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergingPartition(t *testing.T) {
	p := newMergingPartition(6)
	p.mergePartsOf(4, 1)
	p.mergePartsOf(1, 3)
	p.mergePartsOf(5, 2)

	wantRoots := []int{0, 1, 2, 1, 1, 2}
	for i, want := range wantRoots {
		if got := p.rootAndCompressPath(i); got != want {
			t.Errorf("rootAndCompressPath(%d): got %d, want %d", i, got, want)
		}
	}
}

func TestProbeAndFindEquivalentLiteral(t *testing.T) {
	// a <=> b through the two implications (!a v b) and (!b v a).
	solver := sat.NewDefaultSolver()
	solver.SetNumVariables(2)
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(0), sat.PositiveLiteral(1)})
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(1), sat.PositiveLiteral(0)})

	post := NewPostsolver(2)
	mapping := ProbeAndFindEquivalentLiteral(solver, post)

	a := sat.PositiveLiteral(0)
	b := sat.PositiveLiteral(1)
	want := []sat.Literal{a, a.Opposite(), a, a.Opposite()}
	if diff := cmp.Diff(want, mapping); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}

	// The substituted literals must have postsolve entries restoring them
	// from the representative.
	wantAssociated := []sat.Literal{b, b.Opposite()}
	if diff := cmp.Diff(wantAssociated, post.associatedLiterals); diff != "" {
		t.Errorf("associated literals mismatch (-want +got):\n%s", diff)
	}
	wantClauses := []sat.Literal{b, a.Opposite(), b.Opposite(), a}
	if diff := cmp.Diff(wantClauses, post.clausesLiterals); diff != "" {
		t.Errorf("logged clauses mismatch (-want +got):\n%s", diff)
	}
}

// TestProbeAndFindEquivalentLiteral_Complementarity checks that the
// representative of a literal is always the negation of the representative of
// its opposite, even when the equivalence classes are discovered through
// chained implications.
func TestProbeAndFindEquivalentLiteral_Complementarity(t *testing.T) {
	solver := sat.NewDefaultSolver()
	solver.SetNumVariables(4)
	addImplication := func(from, to sat.Literal) {
		solver.AddClause([]sat.Literal{from.Opposite(), to})
	}
	// Cycle over three variables plus an out-of-cycle implication.
	addImplication(sat.PositiveLiteral(0), sat.PositiveLiteral(1))
	addImplication(sat.PositiveLiteral(1), sat.PositiveLiteral(2))
	addImplication(sat.PositiveLiteral(2), sat.PositiveLiteral(0))
	addImplication(sat.PositiveLiteral(0), sat.PositiveLiteral(3))

	post := NewPostsolver(4)
	mapping := ProbeAndFindEquivalentLiteral(solver, post)

	if mapping == nil {
		t.Fatal("ProbeAndFindEquivalentLiteral(): got nil mapping, want equivalences")
	}
	for l := sat.Literal(0); int(l) < len(mapping); l++ {
		if got, want := mapping[l.Opposite()], mapping[l].Opposite(); got != want {
			t.Errorf("rep(%s): got %s, want %s", l.Opposite(), got, want)
		}
	}

	// Variables 0, 1, and 2 are equivalent; variable 3 is not.
	if got := mapping[sat.PositiveLiteral(1)]; got != sat.PositiveLiteral(0) {
		t.Errorf("rep(1): got %s, want %s", got, sat.PositiveLiteral(0))
	}
	if got := mapping[sat.PositiveLiteral(2)]; got != sat.PositiveLiteral(0) {
		t.Errorf("rep(2): got %s, want %s", got, sat.PositiveLiteral(0))
	}
	if got := mapping[sat.PositiveLiteral(3)]; got != sat.PositiveLiteral(3) {
		t.Errorf("rep(3): got %s, want %s", got, sat.PositiveLiteral(3))
	}
}

func TestProbeAndFindEquivalentLiteral_NoEquivalence(t *testing.T) {
	solver := sat.NewDefaultSolver()
	solver.SetNumVariables(2)
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(0), sat.PositiveLiteral(1)})

	post := NewPostsolver(2)
	if mapping := ProbeAndFindEquivalentLiteral(solver, post); mapping != nil {
		t.Errorf("mapping: got %v, want nil", mapping)
	}
	if got := len(post.associatedLiterals); got != 0 {
		t.Errorf("postsolve log size: got %d, want 0", got)
	}
}

func TestProbeAndFindEquivalentLiteral_DeterministicTimeLimit(t *testing.T) {
	params := sat.DefaultParameters
	params.ProbingDeterministicTimeLimit = 0
	solver := sat.NewSolver(params)
	solver.SetNumVariables(3)
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(0), sat.PositiveLiteral(1)})
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(1), sat.PositiveLiteral(0)})
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(1), sat.PositiveLiteral(2)})
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(2), sat.PositiveLiteral(1)})

	post := NewPostsolver(3)
	mapping := ProbeAndFindEquivalentLiteral(solver, post)

	// With a zero budget, the probing may be incomplete but must still be
	// correct: whatever equivalences are reported must be complementary.
	if mapping != nil {
		for l := sat.Literal(0); int(l) < len(mapping); l++ {
			if got, want := mapping[l.Opposite()], mapping[l].Opposite(); got != want {
				t.Errorf("rep(%s): got %s, want %s", l.Opposite(), got, want)
			}
		}
	}
}
