package sat

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"
)

// Deterministic time attributed to each clause inspection performed during
// propagation. The unit is arbitrary: it only needs to grow proportionally
// to the work actually done so that budgets are reproducible across runs.
const inspectionCost = 1e-8

// Parameters groups the per-call budgets and search options of the solver.
// Budgets set to a negative value are ignored.
type Parameters struct {
	ClauseDecay          float64
	VariableDecay        float64
	PhaseSaving          bool
	MaxConflicts         int64
	MaxTime              time.Duration
	MaxDeterministicTime float64
	RandomSeed           int64

	// Deterministic time budget available to the equivalent-literal prober.
	ProbingDeterministicTimeLimit float64
}

var DefaultParameters = Parameters{
	ClauseDecay:                   0.999,
	VariableDecay:                 0.95,
	PhaseSaving:                   false,
	MaxConflicts:                  -1,
	MaxTime:                       -1,
	MaxDeterministicTime:          -1,
	RandomSeed:                    0,
	ProbingDeterministicTimeLimit: 30.0,
}

type Solver struct {
	params Parameters
	rng    *rand.Rand

	// Clause database.
	constraints []*Clause
	learnts     []*Clause
	clauseInc   float64

	// Variable ordering.
	activities []float64
	varInc     float64
	order      *VarOrder

	// Propagation and watchers.
	watchers  [][]watcher
	propQueue *Queue[Literal]

	// Value assigned to each literal.
	assigns []LBool

	// Trail.
	trail    []Literal
	trailLim []int
	reason   []*Clause
	level    []int

	// Whether the problem has reached a top level conflict.
	unsat bool

	// Assumption literals installed by the last call to
	// ResetAndSolveWithGivenAssumptions, and the subset of them responsible
	// for the last StatusAssumptionsUnsat answer.
	assumptions []Literal
	lastCore    []Literal

	// Search statistics.
	TotalConflicts  int64
	TotalRestarts   int64
	TotalIterations int64

	// Budget bookkeeping for the current call.
	startTime        time.Time
	conflictsAtStart int64
	dtAtStart        float64

	// Number of clause inspections, used as a deterministic clock.
	numInspections int64

	// Models found so far. The last entry is the most recent one.
	Models [][]bool

	// Shared by operation that needs to put variables in a set and empty that
	// set efficiently.
	seenVar *ResetSet

	// Temporary slices reused across calls to avoid re-allocations.
	tmpWatchers []watcher
	tmpLearnts  []Literal
	tmpReason   []Literal
}

// watcher represents a clause attached to the watch list of a literal.
type watcher struct {
	// The watching clause to be propagated when the watched literal becomes
	// true.
	clause *Clause

	// Guard is one of the clause's literals. If it is true, then there is
	// no need to propagate the clause. Note that the guard literal must be
	// different from the watcher literal.
	guard Literal
}

// NewDefaultSolver returns a solver configured with default parameters. This
// is equivalent to calling NewSolver with DefaultParameters.
func NewDefaultSolver() *Solver {
	return NewSolver(DefaultParameters)
}

func NewSolver(params Parameters) *Solver {
	s := &Solver{
		params:    params,
		clauseInc: 1,
		varInc:    1,
		propQueue: NewQueue[Literal](128),
		seenVar:   &ResetSet{},
	}
	if params.RandomSeed != 0 {
		s.rng = rand.New(rand.NewSource(params.RandomSeed))
	}
	return s
}

// SetParameters replaces the solver's parameters. This only affects the
// budgets and options of subsequent calls.
func (s *Solver) SetParameters(params Parameters) {
	if params.RandomSeed != s.params.RandomSeed {
		s.rng = rand.New(rand.NewSource(params.RandomSeed))
	}
	s.params = params
}

func (s *Solver) Parameters() Parameters {
	return s.params
}

func (s *Solver) shouldStop() bool {
	if p := s.params.MaxConflicts; p >= 0 && s.TotalConflicts-s.conflictsAtStart >= p {
		return true
	}
	if p := s.params.MaxTime; p >= 0 && time.Since(s.startTime) >= p {
		return true
	}
	if p := s.params.MaxDeterministicTime; p >= 0 && s.DeterministicTime()-s.dtAtStart >= p {
		return true
	}
	return false
}

func (s *Solver) NumVariables() int {
	return len(s.assigns) / 2
}

func (s *Solver) NumAssigns() int {
	return len(s.trail)
}

func (s *Solver) NumConstraints() int {
	return len(s.constraints)
}

func (s *Solver) NumLearnts() int {
	return len(s.learnts)
}

// NumFailures returns the total number of conflicts reached so far.
func (s *Solver) NumFailures() int64 {
	return s.TotalConflicts
}

// DeterministicTime returns a reproducible measure of the work performed by
// the solver since its creation.
func (s *Solver) DeterministicTime() float64 {
	return float64(s.numInspections) * inspectionCost
}

// ProvenUnsat returns true if the problem was proven unsatisfiable at the
// root level, independently of any assumption.
func (s *Solver) ProvenUnsat() bool {
	return s.unsat
}

func (s *Solver) VarValue(v Variable) LBool {
	return s.assigns[PositiveLiteral(v)]
}

func (s *Solver) LitValue(l Literal) LBool {
	return s.assigns[l]
}

// LiteralTrail returns the solver's assignment trail in assignment order.
// The returned slice is only valid until the next operation on the solver.
func (s *Solver) LiteralTrail() []Literal {
	return s.trail
}

// TrailIndex returns the current size of the assignment trail.
func (s *Solver) TrailIndex() int {
	return len(s.trail)
}

// CurrentDecisionLevel returns the number of decisions on the trail.
func (s *Solver) CurrentDecisionLevel() int {
	return s.decisionLevel()
}

func (s *Solver) AddVariable() Variable {
	index := Variable(s.NumVariables())
	s.watchers = append(s.watchers, nil)
	s.watchers = append(s.watchers, nil)
	s.reason = append(s.reason, nil)
	s.seenVar.Expand()

	// One for each literal.
	s.assigns = append(s.assigns, Unknown)
	s.assigns = append(s.assigns, Unknown)

	s.level = append(s.level, -1)
	s.activities = append(s.activities, 0)
	return index
}

// SetNumVariables grows the solver to contain at least n variables.
func (s *Solver) SetNumVariables(n int) {
	for s.NumVariables() < n {
		s.AddVariable()
	}
}

// Watch registers clause c to be awaken when Literal watch is assigned to true.
func (s *Solver) Watch(c *Clause, watch Literal, guard Literal) {
	s.watchers[watch] = append(s.watchers[watch], watcher{
		clause: c,
		guard:  guard,
	})
}

// Unwatch removes clause c from the list of watchers.
func (s *Solver) Unwatch(c *Clause, watch Literal) {
	j := 0
	for i := 0; i < len(s.watchers[watch]); i++ {
		if s.watchers[watch][i].clause != c {
			s.watchers[watch][j] = s.watchers[watch][i]
			j++
		}
	}
	s.watchers[watch] = s.watchers[watch][:j]
}

func (s *Solver) AddClause(clause []Literal) error {
	if s.decisionLevel() != 0 {
		return fmt.Errorf("can only add clauses at the root level")
	}
	c, ok := NewClause(s, clause, false)
	if c != nil {
		s.constraints = append(s.constraints, c)
	}
	if !ok {
		s.unsat = true
	}

	return nil
}

// AddBinaryClause adds the clause (a v b) to the solver.
func (s *Solver) AddBinaryClause(a Literal, b Literal) error {
	return s.AddClause([]Literal{a, b})
}

// AddUnitClause asserts literal l at the root level and propagates it. It
// returns false if the solver detects that this makes the problem
// unsatisfiable.
func (s *Solver) AddUnitClause(l Literal) bool {
	if lvl := s.decisionLevel(); lvl != 0 {
		log.Fatalf("AddUnitClause called at level %d", lvl)
	}
	if s.unsat {
		return false
	}
	if !s.enqueue(l, nil) {
		s.unsat = true
		return false
	}
	if s.Propagate() != nil {
		s.unsat = true
		return false
	}
	return true
}

// Simplify simplifies the clause DB as well as the problem clauses according
// to the root-level assignments. Clauses that are satisfied at the root-level
// are removed.
func (s *Solver) Simplify() bool {
	if l := s.decisionLevel(); l != 0 {
		log.Fatalf("Simplify called on non root-level: %d", l)
	}
	if s.propQueue.Size() != 0 {
		log.Fatal("propQueue should be empty when calling simplify")
	}

	if s.unsat || s.Propagate() != nil {
		s.unsat = true
		return false
	}

	s.simplifyPtr(&s.learnts)
	s.simplifyPtr(&s.constraints) // could be turned off

	return true
}

// simplifyPtr simplifies the clauses in the given slice and remove clauses that
// are already satisfied.
func (s *Solver) simplifyPtr(clausesPtr *[]*Clause) {
	clauses := *clausesPtr
	j := 0
	for i := 0; i < len(clauses); i++ {
		if clauses[i].Simplify(s) {
			clauses[i].Remove(s)
		} else {
			clauses[j] = clauses[i]
			j++
		}
	}
	*clausesPtr = clauses[:j]
}

func (s *Solver) ReduceDB() {
	lim := s.clauseInc / float64(len(s.learnts))

	sort.Slice(s.learnts, func(i, j int) bool {
		return s.learnts[i].activity < s.learnts[j].activity
	})

	i, j := 0, 0
	for ; i < len(s.learnts)/2; i++ {
		if s.learnts[i].locked(s) {
			s.learnts[j] = s.learnts[i]
			j++
		} else {
			s.learnts[i].Remove(s)
		}
	}

	for ; i < len(s.learnts); i++ {
		if !s.learnts[i].locked(s) && s.learnts[i].activity < lim {
			s.learnts[i].Remove(s)
		} else {
			s.learnts[j] = s.learnts[i]
			j++
		}
	}

	s.learnts = s.learnts[:j]
}

func (s *Solver) decisionLevel() int {
	return len(s.trailLim)
}

// Backtrack undoes all the decisions (and their propagations) made after the
// given level.
func (s *Solver) Backtrack(level int) {
	s.cancelUntil(level)
}

// ResetAndSolveWithGivenAssumptions restarts the search from the root level
// with the given assumption literals and solves the problem under them. The
// possible return values are StatusSat, StatusUnsat, StatusAssumptionsUnsat,
// and StatusLimit.
func (s *Solver) ResetAndSolveWithGivenAssumptions(assumptions []Literal) Status {
	s.Backtrack(0)
	s.assumptions = append(s.assumptions[:0], assumptions...)
	return s.Solve()
}

// Solve solves the problem under the currently installed assumptions (none by
// default).
func (s *Solver) Solve() Status {
	s.startTime = time.Now()
	s.conflictsAtStart = s.TotalConflicts
	s.dtAtStart = s.DeterministicTime()

	if s.unsat {
		return StatusUnsat
	}

	numConflicts := 100
	numLearnts := max(s.NumConstraints()/3, 100)
	s.order = NewVarOrder(s, s.NumVariables())

	status := StatusUnknown
	for status == StatusUnknown {
		status = s.Search(numConflicts, numLearnts)
		numConflicts += numConflicts / 10
		numLearnts += numLearnts / 20

		if status == StatusUnknown && s.shouldStop() {
			status = StatusLimit
		}
	}

	s.cancelUntil(0)
	return status
}

// GetLastIncompatibleDecisions returns the subset of the assumptions that was
// responsible for the last StatusAssumptionsUnsat answer, in assumption
// order. The returned slice is only valid until the next solve.
func (s *Solver) GetLastIncompatibleDecisions() []Literal {
	return s.lastCore
}

func (s *Solver) BumpClaActivity(c *Clause) {
	c.activity += s.clauseInc

	if c.activity > 1e100 {
		s.clauseInc *= 1e-100 // important to keep proportions
		for _, l := range s.learnts {
			l.activity *= 1e-100
		}
	}
}

func (s *Solver) BumpVarActivity(l Literal) {
	v := l.Variable()
	s.activities[v] += s.varInc

	if s.activities[v] > 1e100 {
		s.varInc *= 1e-100 // important to keep proportions
		for i := range s.activities {
			s.activities[i] *= 1e-100
		}
	}

	if s.order != nil {
		s.order.Update(v)
	}
}

func (s *Solver) DecayClaActivity() {
	s.clauseInc *= s.params.ClauseDecay
}

func (s *Solver) DecayVarActivity() {
	s.varInc *= s.params.VariableDecay
}

func (s *Solver) Propagate() *Clause {
	for s.propQueue.Size() > 0 {
		l := s.propQueue.Pop()

		s.tmpWatchers = s.tmpWatchers[:0]
		s.tmpWatchers = append(s.tmpWatchers, s.watchers[l]...)
		s.watchers[l] = s.watchers[l][:0]
		s.numInspections += int64(len(s.tmpWatchers)) + 1

		for i, w := range s.tmpWatchers {
			// No need to propagate the clause if its guard is true. This block
			// is not necessary for propagation to behave properly. However, it
			// helps to significantly speed-up computation by avoiding loading
			// clause (in memory) that do not need to be propagated. Note that
			// this alters the order in which clause are propagated and can thus
			// yield to different conflict analysis and learnt clauses.
			if s.LitValue(w.guard) == True {
				s.watchers[l] = append(s.watchers[l], w)
				continue
			}

			if w.clause.Propagate(s, l) {
				continue
			}

			// Constraint is conflicting, copy remaining watchers
			// and return the constraint.
			s.watchers[l] = append(s.watchers[l], s.tmpWatchers[i+1:]...)
			s.propQueue.Clear()
			return s.tmpWatchers[i].clause
		}
	}

	return nil
}

func (s *Solver) enqueue(l Literal, from *Clause) bool {
	switch v := s.LitValue(l); v {
	case False:
		return false // conflicting assignment
	case True:
		return true // already assigned
	default:
		// New fact, store it.
		v := l.Variable()
		s.assigns[l] = True
		s.assigns[l.Opposite()] = False
		s.level[v] = s.decisionLevel()
		s.reason[v] = from
		s.trail = append(s.trail, l)
		s.propQueue.Push(l)
		return true
	}
}

func (s *Solver) explain(c *Clause, l Literal) []Literal {
	if l == NilLiteral {
		return c.ExplainFailure(s)
	} else {
		return c.ExplainAssign(s, l)
	}
}

func (s *Solver) analyze(confl *Clause) ([]Literal, int) {
	// Current number of "implication" nodes encountered in the exploration of
	// the decision level. A value of 0 indicates that the exploration has
	// reached a single implication point.
	nImplicationPoints := 0

	// Empty the buffer of literals in which the learnt clause will be stored.
	// Note that the first literal is reserved for the FUIP which is set at the
	// of this function.
	s.tmpLearnts = s.tmpLearnts[:0]
	s.tmpLearnts = append(s.tmpLearnts, NilLiteral)

	// Next literal to look at. This is used to iterate over the trail without
	// actually undoing the literal assignments.
	nextLiteral := len(s.trail) - 1

	l := NilLiteral // unknown literal used to represent the conflict
	s.seenVar.Clear()
	backtrackLevel := 0

	for {
		for _, q := range s.explain(confl, l) {
			v := q.Variable()
			if s.seenVar.Contains(int(v)) {
				continue
			}

			s.seenVar.Add(int(v))
			if s.level[v] == s.decisionLevel() {
				nImplicationPoints++
				continue
			}

			s.tmpLearnts = append(s.tmpLearnts, q.Opposite())
			if level := s.level[v]; level > backtrackLevel {
				backtrackLevel = level
			}
		}

		// Select next literal to look at.
		for {
			l = s.trail[nextLiteral]
			nextLiteral--
			v := l.Variable()
			confl = s.reason[v]
			if s.seenVar.Contains(int(v)) {
				break
			}
		}

		nImplicationPoints--
		if nImplicationPoints <= 0 {
			break
		}
	}

	// Add literal corresponding to the FUIP.
	s.tmpLearnts[0] = l.Opposite()

	return s.tmpLearnts, backtrackLevel
}

// analyzeFinal computes the subset of the assumptions that implies the
// falsity of assumption p. The result is stored in lastCore in assumption
// order, ending with p itself.
func (s *Solver) analyzeFinal(p Literal) {
	core := s.lastCore[:0]
	if len(s.trailLim) == 0 {
		// p is false at the root level: it is incompatible on its own.
		s.lastCore = append(core, p)
		return
	}

	s.seenVar.Clear()
	s.seenVar.Add(int(p.Variable()))

	bottom := s.trailLim[0]
	for i := len(s.trail) - 1; i >= bottom; i-- {
		l := s.trail[i]
		v := l.Variable()
		if !s.seenVar.Contains(int(v)) {
			continue
		}
		if s.reason[v] == nil {
			// Decisions below the assumption levels are all assumptions.
			core = append(core, l)
		} else {
			for _, q := range s.explain(s.reason[v], l) {
				if s.level[q.Variable()] > 0 {
					s.seenVar.Add(int(q.Variable()))
				}
			}
		}
	}

	// Put the core in assumption order.
	for i, j := 0, len(core)-1; i < j; i, j = i+1, j-1 {
		core[i], core[j] = core[j], core[i]
	}
	s.lastCore = append(core, p)
}

func (s *Solver) record(clause []Literal) {
	c, _ := NewClause(s, clause, true)
	s.enqueue(clause[0], c)
	if c != nil {
		s.learnts = append(s.learnts, c)
	}
}

// EnqueueDecisionAndBackjumpOnConflict enqueues l as a new decision and
// propagates it. If the propagation conflicts, the solver learns from the
// conflict and backjumps, then propagates again until a conflict-free state
// is reached. The resulting decision level can be any level between 0 and the
// level at which l was decided plus one.
func (s *Solver) EnqueueDecisionAndBackjumpOnConflict(l Literal) {
	if s.unsat {
		return
	}
	s.assume(l)
	for {
		conflict := s.Propagate()
		if conflict == nil {
			return
		}
		s.TotalConflicts++
		if s.decisionLevel() == 0 {
			s.unsat = true
			return
		}
		learnt, backtrackLevel := s.analyze(conflict)
		s.cancelUntil(backtrackLevel)
		s.record(learnt)
	}
}

func (s *Solver) Search(nConflicts int, nLearnts int) Status {
	if s.unsat {
		return StatusUnsat
	}

	s.TotalRestarts++
	conflictCount := 0

	for !s.shouldStop() {
		s.TotalIterations++

		if conflict := s.Propagate(); conflict != nil {
			conflictCount++
			s.TotalConflicts++

			if s.decisionLevel() == 0 {
				s.unsat = true
				return StatusUnsat
			}

			learntClause, backtrackLevel := s.analyze(conflict)
			s.cancelUntil(backtrackLevel)

			s.record(learntClause)

			s.DecayClaActivity()
			s.DecayVarActivity()

			continue
		}

		// No Conflict
		// -----------

		if s.decisionLevel() == 0 {
			s.Simplify()
		}

		if len(s.learnts)-s.NumAssigns() >= nLearnts {
			s.ReduceDB()
		}

		// Install the assumptions first, before attempting to declare the
		// current assignment a model: an assumption could still be violated
		// even if all variables are assigned.
		if dl := s.decisionLevel(); dl < len(s.assumptions) {
			switch a := s.assumptions[dl]; s.LitValue(a) {
			case True:
				// Dummy decision level: the assumption already holds.
				s.trailLim = append(s.trailLim, len(s.trail))
			case False:
				s.analyzeFinal(a)
				return StatusAssumptionsUnsat
			default:
				s.assume(a)
			}
			continue
		}

		if s.NumAssigns() == s.NumVariables() { // solution found
			s.saveModel()
			s.cancelUntil(0)
			return StatusSat
		}

		if conflictCount > nConflicts {
			s.cancelUntil(0)
			return StatusUnknown
		}

		s.assume(s.order.Select())
	}

	return StatusLimit
}

func (s *Solver) undoOne() {
	l := s.trail[len(s.trail)-1]
	v := l.Variable()

	if s.order != nil {
		s.order.Undo(v)
	}
	s.assigns[l] = Unknown
	s.assigns[l.Opposite()] = Unknown
	s.reason[v] = nil
	s.level[v] = -1

	s.trail = s.trail[:len(s.trail)-1]
}

func (s *Solver) assume(l Literal) bool {
	s.trailLim = append(s.trailLim, len(s.trail))
	return s.enqueue(l, nil)
}

func (s *Solver) cancel() {
	c := len(s.trail) - s.trailLim[len(s.trailLim)-1]
	for ; c != 0; c-- {
		s.undoOne()
	}
	s.trailLim = s.trailLim[:len(s.trailLim)-1]
}

func (s *Solver) cancelUntil(level int) {
	for s.decisionLevel() > level {
		s.cancel()
	}
}

func (s *Solver) saveModel() {
	model := make([]bool, s.NumVariables())
	for i := range model {
		lb := s.VarValue(Variable(i))
		if lb == Unknown {
			panic("not a model")
		}
		model[i] = lb == True
	}
	s.Models = append(s.Models, model)
}

// LastModel returns the most recent model found by the solver, or nil if no
// model was found yet.
func (s *Solver) LastModel() []bool {
	if len(s.Models) == 0 {
		return nil
	}
	return s.Models[len(s.Models)-1]
}
