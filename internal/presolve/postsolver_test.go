package presolve

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rhartert/bop/internal/sat"
)

func TestPostsolver_Postsolve(t *testing.T) {
	// Log of the elimination of x = var 0 from {x, a} and {!x, b} with
	// a = var 1 and b = var 2.
	post := NewPostsolver(3)
	post.Add(sat.PositiveLiteral(0), lits(0, 2))
	post.Add(sat.NegativeLiteral(0), lits(1, 4))

	testCases := []struct {
		desc string
		a    bool
		b    bool
	}{
		{desc: "both true", a: true, b: true},
		{desc: "only b true", a: false, b: true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assignment := make([]sat.LBool, 6)
			assign := func(v sat.Variable, value bool) {
				l := sat.NewLiteral(v, value)
				assignment[l] = sat.True
				assignment[l.Opposite()] = sat.False
			}
			assign(1, tc.a)
			assign(2, tc.b)

			post.Postsolve(assignment)

			// Both original clauses must be satisfied.
			for _, clause := range [][]sat.Literal{lits(0, 2), lits(1, 4)} {
				satisfied := false
				for _, l := range clause {
					if assignment[l] == sat.True {
						satisfied = true
					}
				}
				if !satisfied {
					t.Errorf("clause %v is not satisfied", clause)
				}
			}
		})
	}
}

func TestPostsolver_Postsolve_ForcesAssociatedLiteral(t *testing.T) {
	// Blocked clause {x, a}: if a is false, postsolve must force x.
	post := NewPostsolver(2)
	post.Add(sat.PositiveLiteral(0), lits(0, 2))

	assignment := make([]sat.LBool, 4)
	assignment[sat.NegativeLiteral(1)] = sat.True
	assignment[sat.PositiveLiteral(1)] = sat.False

	post.Postsolve(assignment)

	if got := assignment[sat.PositiveLiteral(0)]; got != sat.True {
		t.Errorf("value of x: got %s, want true", got)
	}
}

func TestPostsolver_ApplyMapping(t *testing.T) {
	post := NewPostsolver(4)

	// Variables 0 and 2 survive a first renaming, then variable 1 (the old
	// variable 2) survives a second one.
	post.ApplyMapping([]sat.Variable{0, sat.NilVariable, 1, sat.NilVariable})
	post.ApplyMapping([]sat.Variable{sat.NilVariable, 0})

	want := []sat.Variable{2, sat.NilVariable, sat.NilVariable, sat.NilVariable}
	if diff := cmp.Diff(want, post.reverseMapping); diff != "" {
		t.Errorf("reverseMapping mismatch (-want +got):\n%s", diff)
	}
}

func TestPostsolver_Add_RemapsLiterals(t *testing.T) {
	post := NewPostsolver(4)
	post.ApplyMapping([]sat.Variable{0, sat.NilVariable, 1, sat.NilVariable})

	// Internal variable 1 is the original variable 2.
	post.Add(sat.PositiveLiteral(1), []sat.Literal{sat.PositiveLiteral(1), sat.NegativeLiteral(0)})

	want := []sat.Literal{sat.PositiveLiteral(2)}
	if diff := cmp.Diff(want, post.associatedLiterals); diff != "" {
		t.Errorf("associated literals mismatch (-want +got):\n%s", diff)
	}
	wantClause := []sat.Literal{sat.PositiveLiteral(2), sat.NegativeLiteral(0)}
	if diff := cmp.Diff(wantClause, post.clausesLiterals); diff != "" {
		t.Errorf("logged clause mismatch (-want +got):\n%s", diff)
	}
}

func TestPostsolver_PostsolveSolution(t *testing.T) {
	// Original variables {0, 1, 2}. Variable 0 was eliminated with the log
	// entry (x0, {x0, x1}), then the survivors were renamed densely.
	post := NewPostsolver(3)
	post.Add(sat.PositiveLiteral(0), lits(0, 2))
	post.ApplyMapping([]sat.Variable{sat.NilVariable, 0, 1})

	got := post.PostsolveSolution([]bool{true, false})

	// x1 is true so the logged clause is satisfied: x0 is free and defaults
	// to true.
	want := []bool{true, true, false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PostsolveSolution() mismatch (-want +got):\n%s", diff)
	}
}

func TestPostsolver_FixVariable(t *testing.T) {
	post := NewPostsolver(2)
	post.FixVariable(sat.NegativeLiteral(1))
	post.ApplyMapping([]sat.Variable{0, sat.NilVariable})

	got := post.PostsolveSolution([]bool{true})

	want := []bool{true, false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PostsolveSolution() mismatch (-want +got):\n%s", diff)
	}
}

func TestPostsolver_ExtractAndPostsolveSolution(t *testing.T) {
	post := NewPostsolver(2)

	solver := sat.NewDefaultSolver()
	solver.SetNumVariables(2)
	solver.AddClause([]sat.Literal{sat.PositiveLiteral(0)})
	solver.AddClause([]sat.Literal{sat.NegativeLiteral(0), sat.PositiveLiteral(1)})
	if status := solver.Solve(); status != sat.StatusSat {
		t.Fatalf("Solve(): got %s, want %s", status, sat.StatusSat)
	}

	got := post.ExtractAndPostsolveSolution(solver)

	want := []bool{true, true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractAndPostsolveSolution() mismatch (-want +got):\n%s", diff)
	}
}
