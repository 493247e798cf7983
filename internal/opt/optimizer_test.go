package opt

import (
	"testing"
	"time"

	"github.com/rhartert/bop/internal/encoding"
	"github.com/rhartert/bop/internal/sat"
	"github.com/stretchr/testify/require"
)

func newTestLimit() *TimeLimit {
	return NewTimeLimit(10*time.Second, 1.0)
}

// optimizeToCompletion drives the optimizer until it reaches a conclusion,
// synchronizing the problem state with every improving solution, the way the
// outer portfolio would. It returns the final status and the sequence of
// lower bounds reported by the calls.
func optimizeToCompletion(t *testing.T, o *CoreBasedOptimizer, ps *ProblemState) (Status, []int64) {
	t.Helper()

	var lowerBounds []int64
	learned := &LearnedInfo{}
	for i := 0; i < 100; i++ {
		status := o.Optimize(DefaultParameters, ps, learned, newTestLimit())
		lowerBounds = append(lowerBounds, learned.LowerBound)
		if learned.Solution != nil {
			ps.SetSolution(learned.Solution)
		}
		if status != StatusContinue && status != StatusSolutionFound {
			return status, lowerBounds
		}
	}
	t.Fatal("the optimizer did not converge")
	return StatusContinue, nil
}

func TestCoreBasedOptimizer_UnweightedCore(t *testing.T) {
	// Minimize x + y + z subject to (x v y v z): the optimum is 1.
	ps := NewProblemState(3, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
		{Literal: sat.PositiveLiteral(1), Weight: 1},
		{Literal: sat.PositiveLiteral(2), Weight: 1},
	})
	ps.AddClause([]sat.Literal{
		sat.PositiveLiteral(0),
		sat.PositiveLiteral(1),
		sat.PositiveLiteral(2),
	})

	o := NewCoreBasedOptimizer()
	status, _ := optimizeToCompletion(t, o, ps)

	require.Equal(t, StatusOptimalSolutionFound, status)
	require.True(t, ps.Solution().Feasible)
	require.Equal(t, int64(1), ps.Solution().Cost)
	require.Equal(t, int64(1), o.LowerBound())
}

func TestCoreBasedOptimizer_Stratification(t *testing.T) {
	// Minimize 2x + y subject to (x v y): only the heavy literal is assumed
	// false first, finding the solution {x: false, y: true} of cost 1.
	ps := NewProblemState(2, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 2},
		{Literal: sat.PositiveLiteral(1), Weight: 1},
	})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(0), sat.PositiveLiteral(1)})

	o := NewCoreBasedOptimizer()

	learned := &LearnedInfo{}
	status := o.Optimize(DefaultParameters, ps, learned, newTestLimit())
	require.Equal(t, StatusSolutionFound, status)
	require.Equal(t, []bool{false, true}, learned.Solution)

	ps.SetSolution(learned.Solution)
	status = o.Optimize(DefaultParameters, ps, learned, newTestLimit())
	require.Equal(t, StatusOptimalSolutionFound, status)
	require.Equal(t, int64(1), learned.LowerBound)
	require.Equal(t, int64(1), ps.Solution().Cost)
}

func TestCoreBasedOptimizer_Infeasible(t *testing.T) {
	ps := NewProblemState(1, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
	})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(0)})
	ps.AddClause([]sat.Literal{sat.NegativeLiteral(0)})

	o := NewCoreBasedOptimizer()
	learned := &LearnedInfo{}
	status := o.Optimize(DefaultParameters, ps, learned, newTestLimit())

	require.Equal(t, StatusInfeasible, status)
}

func TestCoreBasedOptimizer_AlreadyOptimal(t *testing.T) {
	// The objective literal is forced: the first solution is optimal.
	ps := NewProblemState(2, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
	})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(0)})
	ps.AddClause([]sat.Literal{sat.NegativeLiteral(0), sat.PositiveLiteral(1)})

	o := NewCoreBasedOptimizer()
	status, _ := optimizeToCompletion(t, o, ps)

	require.Equal(t, StatusOptimalSolutionFound, status)
	require.Equal(t, int64(1), ps.Solution().Cost)
}

func TestCoreBasedOptimizer_MonotoneLowerBound(t *testing.T) {
	ps := NewProblemState(4, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
		{Literal: sat.PositiveLiteral(1), Weight: 1},
		{Literal: sat.PositiveLiteral(2), Weight: 1},
		{Literal: sat.PositiveLiteral(3), Weight: 1},
	})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(0), sat.PositiveLiteral(1)})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(2), sat.PositiveLiteral(3)})

	o := NewCoreBasedOptimizer()
	status, lowerBounds := optimizeToCompletion(t, o, ps)

	require.Equal(t, StatusOptimalSolutionFound, status)
	require.Equal(t, int64(2), ps.Solution().Cost)
	for i := 1; i < len(lowerBounds); i++ {
		require.GreaterOrEqual(t, lowerBounds[i], lowerBounds[i-1])
	}
}

func TestCoreBasedOptimizer_NegativeWeights(t *testing.T) {
	// Minimize x - 2y: the optimum sets y and clears x for a cost of -2.
	ps := NewProblemState(2, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
		{Literal: sat.PositiveLiteral(1), Weight: -2},
	})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(0), sat.PositiveLiteral(1)})

	o := NewCoreBasedOptimizer()
	status, _ := optimizeToCompletion(t, o, ps)

	require.Equal(t, StatusOptimalSolutionFound, status)
	require.Equal(t, int64(-2), ps.Solution().Cost)
	require.Equal(t, []bool{false, true}, ps.Solution().Values)
}

func TestCoreBasedOptimizer_SynchronizeKeepsState(t *testing.T) {
	ps := NewProblemState(2, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
	})
	ps.AddClause([]sat.Literal{sat.PositiveLiteral(0), sat.PositiveLiteral(1)})

	o := NewCoreBasedOptimizer()
	require.Equal(t, StatusContinue, o.synchronizeIfNeeded(ps))
	stamp := o.stateUpdateStamp

	// A second synchronization with an unchanged state is a no-op.
	require.Equal(t, StatusContinue, o.synchronizeIfNeeded(ps))
	require.Equal(t, stamp, o.stateUpdateStamp)
}

func TestMinimizeCore(t *testing.T) {
	// Under the clause (x), the assumption !x is incompatible on its own:
	// the core {!y, !x} must shrink to {!x}.
	solver := sat.NewDefaultSolver()
	solver.SetNumVariables(2)
	solver.AddClause([]sat.Literal{sat.PositiveLiteral(0)})

	core := []sat.Literal{sat.NegativeLiteral(1), sat.NegativeLiteral(0)}
	MinimizeCore(solver, &core)

	require.Equal(t, []sat.Literal{sat.NegativeLiteral(0)}, core)
}

func TestProblemState_EvaluateObjective(t *testing.T) {
	ps := NewProblemState(2, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 3},
		{Literal: sat.NegativeLiteral(1), Weight: 2},
	})

	require.Equal(t, int64(5), ps.EvaluateObjective([]bool{true, false}))
	require.Equal(t, int64(0), ps.EvaluateObjective([]bool{false, true}))
}

func TestProblemState_SetSolution(t *testing.T) {
	ps := NewProblemState(1, []encoding.WeightedLiteral{
		{Literal: sat.PositiveLiteral(0), Weight: 1},
	})
	stamp := ps.UpdateStamp()

	require.True(t, ps.SetSolution([]bool{true}))
	require.Equal(t, int64(1), ps.Solution().Cost)
	require.NotEqual(t, stamp, ps.UpdateStamp())

	// A solution that does not improve the incumbent is rejected.
	require.False(t, ps.SetSolution([]bool{true}))
	require.True(t, ps.SetSolution([]bool{false}))
	require.Equal(t, int64(0), ps.Solution().Cost)
}
