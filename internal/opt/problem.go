// Package opt implements a core-guided optimizer for weighted boolean
// objectives. The optimizer repeatedly solves the problem under assumptions
// forbidding any objective violation, and uses the UNSAT cores returned by
// the solver to relax those assumptions as little as possible, growing a
// proven lower bound in the process.
package opt

import (
	"math"

	"github.com/rhartert/bop/internal/encoding"
	"github.com/rhartert/bop/internal/sat"
)

// coefficientMax represents an infinite objective value.
const coefficientMax = int64(math.MaxInt64)

// initialStamp is the update stamp of an optimizer that was never
// synchronized with a problem state.
const initialStamp = int64(-1)

// Parameters configures an optimize call.
type Parameters struct {
	// Conflict budget of a single optimize call, spread across its SAT
	// invocations.
	MaxNumberOfConflicts int64

	// Seed forwarded to the SAT solver.
	RandomSeed int64
}

var DefaultParameters = Parameters{
	MaxNumberOfConflicts: 2500,
	RandomSeed:           0,
}

// Solution is a feasible assignment of the problem together with its
// objective cost.
type Solution struct {
	Feasible bool
	Cost     int64
	Values   []bool
}

// ProblemState is the shared view of the problem consumed by the optimizer:
// the clauses, the objective, and the best solution known so far. Any
// mutation bumps the update stamp so that optimizers can cheaply detect
// staleness.
type ProblemState struct {
	stamp        int64
	numVariables int
	objective    []encoding.WeightedLiteral
	clauses      [][]sat.Literal
	solution     Solution
}

func NewProblemState(numVariables int, objective []encoding.WeightedLiteral) *ProblemState {
	return &ProblemState{
		numVariables: numVariables,
		objective:    objective,
	}
}

func (ps *ProblemState) UpdateStamp() int64 {
	return ps.stamp
}

func (ps *ProblemState) NumVariables() int {
	return ps.numVariables
}

func (ps *ProblemState) Objective() []encoding.WeightedLiteral {
	return ps.objective
}

func (ps *ProblemState) Solution() Solution {
	return ps.solution
}

// AddClause appends a clause to the problem.
func (ps *ProblemState) AddClause(clause []sat.Literal) {
	c := make([]sat.Literal, len(clause))
	copy(c, clause)
	ps.clauses = append(ps.clauses, c)
	ps.stamp++
}

// SetSolution installs values as the problem's best known solution if it
// improves on the current one. It returns true if the solution was accepted.
func (ps *ProblemState) SetSolution(values []bool) bool {
	cost := ps.EvaluateObjective(values)
	if ps.solution.Feasible && cost >= ps.solution.Cost {
		return false
	}
	ps.solution = Solution{
		Feasible: true,
		Cost:     cost,
		Values:   append([]bool(nil), values...),
	}
	ps.stamp++
	return true
}

// EvaluateObjective returns the objective cost of the given assignment.
func (ps *ProblemState) EvaluateObjective(values []bool) int64 {
	cost := int64(0)
	for _, term := range ps.objective {
		v := values[term.Literal.Variable()]
		if v == term.Literal.IsPositive() {
			cost += term.Weight
		}
	}
	return cost
}

// LearnedInfo collects what an optimize call learned: an improved lower
// bound (expressed as an objective value), an improved solution if any, and
// the literals fixed at the solver's root level.
type LearnedInfo struct {
	LowerBound    int64
	Solution      []bool
	FixedLiterals []sat.Literal
}

// Clear resets the learned info to its empty state.
func (li *LearnedInfo) Clear() {
	li.LowerBound = -coefficientMax
	li.Solution = nil
	li.FixedLiterals = li.FixedLiterals[:0]
}
