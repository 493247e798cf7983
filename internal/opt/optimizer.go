package opt

import (
	"log"
	"slices"

	"github.com/rhartert/bop/internal/encoding"
	"github.com/rhartert/bop/internal/sat"
)

// Status is the result of an optimize call.
type Status uint8

const (
	// StatusContinue means that a budget was exhausted before reaching a
	// conclusion: calling Optimize again will resume the work.
	StatusContinue Status = iota

	// StatusSolutionFound means that an improving solution was found, but
	// that its optimality is not proven yet.
	StatusSolutionFound

	// StatusOptimalSolutionFound means that the best known solution was
	// proven optimal.
	StatusOptimalSolutionFound

	// StatusInfeasible means that the problem has no solution at all.
	StatusInfeasible
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "CONTINUE"
	case StatusSolutionFound:
		return "SOLUTION_FOUND"
	case StatusOptimalSolutionFound:
		return "OPTIMAL_SOLUTION_FOUND"
	case StatusInfeasible:
		return "INFEASIBLE"
	default:
		return "UNKNOWN"
	}
}

// CoreBasedOptimizer minimizes a weighted boolean objective by repeatedly
// solving the problem under assumptions derived from a set of encoding
// nodes, and merging the nodes involved in each UNSAT core.
type CoreBasedOptimizer struct {
	solver     *sat.Solver
	repository encoding.Repository
	nodes      []*encoding.Node

	// See encoding.CreateInitialEncodingNodes: objective cost plus offset
	// equals the weighted violation count tracked by the nodes.
	offset int64

	// Bounds on the weighted violation count. lowerBound only grows across
	// calls; upperBound tracks the best solution of the problem state.
	lowerBound int64
	upperBound int64

	// Minimum node weight for a node to contribute an assumption. Heavy
	// nodes are handled first; the threshold only decreases once the current
	// stratum is proven optimal.
	stratifiedLowerBound int64

	stateUpdateStamp        int64
	initialized             bool
	assumptionsAlreadyAdded bool
	numLoadedClauses        int
}

func NewCoreBasedOptimizer() *CoreBasedOptimizer {
	return &CoreBasedOptimizer{
		solver:           sat.NewSolver(sat.DefaultParameters),
		lowerBound:       0,
		upperBound:       coefficientMax,
		stateUpdateStamp: initialStamp,
	}
}

// LowerBound returns the optimizer's proven lower bound, expressed as an
// objective value.
func (o *CoreBasedOptimizer) LowerBound() int64 {
	return o.lowerBound - o.offset
}

// ShouldBeRun returns true if the optimizer can improve the given problem
// state, i.e. if there is an objective to optimize.
func (o *CoreBasedOptimizer) ShouldBeRun(problemState *ProblemState) bool {
	return len(problemState.Objective()) > 0
}

// synchronizeIfNeeded imports any new problem information into the solver
// and, on the first call, builds the initial encoding nodes. It returns
// StatusContinue unless loading the problem proved it unsatisfiable.
func (o *CoreBasedOptimizer) synchronizeIfNeeded(problemState *ProblemState) Status {
	if o.stateUpdateStamp == problemState.UpdateStamp() {
		return StatusContinue
	}
	o.stateUpdateStamp = problemState.UpdateStamp()

	// Note that if the solver is not empty, this only loads the newly
	// learned information.
	o.solver.Backtrack(0)
	if o.solver.NumVariables() < problemState.NumVariables() {
		o.solver.SetNumVariables(problemState.NumVariables())
	}
	for ; o.numLoadedClauses < len(problemState.clauses); o.numLoadedClauses++ {
		o.solver.AddClause(problemState.clauses[o.numLoadedClauses])
	}
	if o.solver.ProvenUnsat() {
		if problemState.Solution().Feasible {
			return StatusOptimalSolutionFound
		}
		return StatusInfeasible
	}

	if !o.initialized {
		o.nodes, o.offset = encoding.CreateInitialEncodingNodes(
			problemState.Objective(), &o.repository)
		o.initialized = true

		// This is used by the "stratified" approach.
		o.stratifiedLowerBound = 0
		for _, n := range o.nodes {
			o.stratifiedLowerBound = max(o.stratifiedLowerBound, n.Weight())
		}
	}

	// Extract the new upper bound.
	if s := problemState.Solution(); s.Feasible {
		o.upperBound = s.Cost + o.offset
	}
	return StatusContinue
}

// solveWithAssumptions builds the assumptions from the current encoding
// nodes and solves the problem under them.
func (o *CoreBasedOptimizer) solveWithAssumptions() sat.Status {
	o.solver.Backtrack(0)
	for _, n := range o.nodes {
		o.lowerBound += int64(n.Reduce(o.solver)) * n.Weight()
	}
	if o.upperBound != coefficientMax {
		gap := o.upperBound - o.lowerBound
		if gap <= 0 {
			// The lower bound matches the cost of the problem state's
			// solution: the current model, which looks for a strictly better
			// solution, is UNSAT and the synchronized solution is optimal.
			return sat.StatusUnsat
		}
		for _, n := range o.nodes {
			n.ApplyUpperBound(gap/n.Weight(), o.solver)
		}
	}

	var assumptions []sat.Literal
	newIndex := 0
	for _, n := range o.nodes {
		if n.Size() == 0 {
			continue
		}
		if n.Weight() >= o.stratifiedLowerBound {
			assumptions = append(assumptions, n.Literal(0).Opposite())
		}
		o.nodes[newIndex] = n
		newIndex++
	}
	o.nodes = o.nodes[:newIndex]

	return o.solver.ResetAndSolveWithGivenAssumptions(assumptions)
}

// Optimize runs the core-guided loop until a budget is exhausted or a
// conclusion is reached. Everything learned during the call, including an
// improving solution if one was found, is reported through learnedInfo.
func (o *CoreBasedOptimizer) Optimize(
	parameters Parameters,
	problemState *ProblemState,
	learnedInfo *LearnedInfo,
	timeLimit *TimeLimit,
) Status {
	learnedInfo.Clear()

	if status := o.synchronizeIfNeeded(problemState); status != StatusContinue {
		return status
	}

	conflictLimit := parameters.MaxNumberOfConflicts
	deterministicTimeAtLastSync := o.solver.DeterministicTime()
	for !timeLimit.LimitReached() {
		satParams := o.solver.Parameters()
		satParams.MaxTime = timeLimit.GetTimeLeft()
		satParams.MaxDeterministicTime = timeLimit.GetDeterministicTimeLeft()
		satParams.RandomSeed = parameters.RandomSeed
		satParams.MaxConflicts = conflictLimit
		o.solver.SetParameters(satParams)

		oldNumConflicts := o.solver.NumFailures()
		var satStatus sat.Status
		if o.assumptionsAlreadyAdded {
			satStatus = o.solver.Solve()
		} else {
			satStatus = o.solveWithAssumptions()
		}
		timeLimit.AdvanceDeterministicTime(
			o.solver.DeterministicTime() - deterministicTimeAtLastSync)
		deterministicTimeAtLastSync = o.solver.DeterministicTime()

		o.assumptionsAlreadyAdded = true
		conflictLimit -= o.solver.NumFailures() - oldNumConflicts
		learnedInfo.LowerBound = o.LowerBound()

		// This is possible because the assumptions over-constrain the
		// objective.
		if satStatus == sat.StatusUnsat {
			if problemState.Solution().Feasible {
				return StatusOptimalSolutionFound
			}
			return StatusInfeasible
		}

		o.extractLearnedInfo(learnedInfo)
		if satStatus == sat.StatusLimit || conflictLimit < 0 {
			return StatusContinue
		}

		if satStatus == sat.StatusSat {
			// Lower the stratification threshold to the largest node weight
			// strictly below it, if any.
			oldLowerBound := o.stratifiedLowerBound
			for _, n := range o.nodes {
				if w := n.Weight(); w < oldLowerBound {
					if o.stratifiedLowerBound == oldLowerBound ||
						w > o.stratifiedLowerBound {
						o.stratifiedLowerBound = w
					}
				}
			}

			// We found a better solution!
			model := o.solver.LastModel()
			learnedInfo.Solution = slices.Clone(model[:problemState.NumVariables()])
			if o.stratifiedLowerBound < oldLowerBound {
				o.assumptionsAlreadyAdded = false
				return StatusSolutionFound
			}
			return StatusOptimalSolutionFound
		}

		// The interesting case: we have a core.
		core := slices.Clone(o.solver.GetLastIncompatibleDecisions())
		MinimizeCore(o.solver, &core)
		minWeight := o.minCoreNodeWeight(core)

		o.solver.Backtrack(0)
		o.assumptionsAlreadyAdded = false

		if len(core) == 1 {
			if o.solver.LitValue(core[0]) != sat.False {
				log.Fatalf("the singleton core %s is not falsified at the root", core[0])
			}
			o.processSingletonCore(core[0])
		} else {
			o.mergeCoreNodes(core, minWeight)
		}
	}
	return StatusContinue
}

// minCoreNodeWeight returns the minimum weight among the nodes whose
// assumption literals belong to the core. The core must be a subsequence of
// the assumptions, which are in node order.
func (o *CoreBasedOptimizer) minCoreNodeWeight(core []sat.Literal) int64 {
	minWeight := coefficientMax
	index := 0
	for _, coreLiteral := range core {
		for index < len(o.nodes) && o.nodes[index].Literal(0).Opposite() != coreLiteral {
			index++
		}
		if index >= len(o.nodes) {
			log.Fatalf("core literal %s does not match any assumption node", coreLiteral)
		}
		minWeight = min(minWeight, o.nodes[index].Weight())
	}
	return minWeight
}

// processSingletonCore grows the unique node whose assumption literal is the
// core: its first output is now fixed, so the next output must be
// materialized to serve as the new assumption.
func (o *CoreBasedOptimizer) processSingletonCore(coreLiteral sat.Literal) {
	for _, n := range o.nodes {
		if n.Literal(0).Opposite() == coreLiteral {
			encoding.IncreaseNodeSize(n, o.solver)
			return
		}
	}
	log.Fatalf("core literal %s does not match any assumption node", coreLiteral)
}

// mergeCoreNodes removes the cored nodes from the node list (keeping a copy
// of those with a residual weight) and replaces them with a single merged
// node of the core's minimum weight. The merged node's first output is
// asserted at the root: the core proved that at least one violation among
// the cored literals is unavoidable.
func (o *CoreBasedOptimizer) mergeCoreNodes(core []sat.Literal, minWeight int64) {
	newIndex := 0
	index := 0
	toMerge := make([]*encoding.Node, 0, len(core))
	for _, coreLiteral := range core {
		for {
			if index >= len(o.nodes) {
				log.Fatalf("core literal %s does not match any assumption node", coreLiteral)
			}
			if o.nodes[index].Literal(0).Opposite() == coreLiteral {
				break
			}
			o.nodes[newIndex] = o.nodes[index]
			newIndex++
			index++
		}
		toMerge = append(toMerge, o.nodes[index])
		if o.nodes[index].Weight() > minWeight {
			// Keep a residual copy in place. Note that its assumption
			// literal is unchanged.
			o.nodes[index].SetWeight(o.nodes[index].Weight() - minWeight)
			o.nodes[newIndex] = o.nodes[index]
			newIndex++
		}
		index++
	}
	for ; index < len(o.nodes); index++ {
		o.nodes[newIndex] = o.nodes[index]
		newIndex++
	}
	o.nodes = o.nodes[:newIndex]

	merged := encoding.LazyMergeAllNodeWithPQ(toMerge, o.solver, &o.repository)
	encoding.IncreaseNodeSize(merged, o.solver)
	merged.SetWeight(minWeight)
	if !o.solver.AddUnitClause(merged.Literal(0)) {
		log.Fatal("the solver rejected the merged node's unit clause")
	}
	o.nodes = append(o.nodes, merged)
}

// extractLearnedInfo exports the literals fixed at the solver's root level.
func (o *CoreBasedOptimizer) extractLearnedInfo(learnedInfo *LearnedInfo) {
	trail := o.solver.LiteralTrail()
	learnedInfo.FixedLiterals = append(learnedInfo.FixedLiterals[:0], trail...)
}

// MinimizeCore attempts to reduce the given core by re-solving the problem
// with the core's literals, reversed, as assumptions. If this is again UNSAT
// with a smaller incompatible subset, the smaller core is kept.
func MinimizeCore(solver *sat.Solver, core *[]sat.Literal) {
	reversed := slices.Clone(*core)
	slices.Reverse(reversed)
	solver.Backtrack(0)
	if solver.ResetAndSolveWithGivenAssumptions(reversed) != sat.StatusAssumptionsUnsat {
		return
	}
	smaller := slices.Clone(solver.GetLastIncompatibleDecisions())
	if len(smaller) < len(*core) {
		slices.Reverse(smaller)
		*core = smaller
	}
}
