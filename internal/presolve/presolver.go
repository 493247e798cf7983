package presolve

import (
	"log"
	"slices"

	"github.com/rhartert/bop/internal/sat"
	"github.com/rhartert/yagh"
)

// ClauseIndex identifies a clause in the presolver's database. Indices are
// never reused: a deleted clause keeps its index with an empty literal
// sequence.
type ClauseIndex int

// Options configures the presolver's bounded variable elimination.
type Options struct {
	// Abort the elimination of a variable x if the product of the number of
	// clauses containing x and the number of clauses containing ¬x exceeds
	// this threshold.
	BVEThreshold int

	// Additive cost of a clause in the BVE budget. Larger values make the
	// presolver more willing to trade many short clauses for fewer
	// occurrences of a variable.
	BVEClauseWeight int
}

var DefaultOptions = Options{
	BVEThreshold:    500,
	BVEClauseWeight: 3,
}

// Presolver simplifies a clause database by subsumption, self-subsuming
// resolution, bounded variable elimination and blocked clause elimination.
// Every destructive step is recorded in the associated Postsolver so that a
// solution of the simplified formula can be extended to a solution of the
// original one.
type Presolver struct {
	options    Options
	postsolver *Postsolver

	// The clause database. A deleted clause is represented by a nil literal
	// sequence so that clause indices remain stable.
	clauses [][]sat.Literal

	// Occurrence lists: for each literal, the clauses containing it. The
	// lists are cleaned lazily, but literalToClauseSizes is always exact.
	literalToClauses     [][]ClauseIndex
	literalToClauseSizes []int

	// Queue of clauses to process for subsumption and strengthening.
	clauseToProcess   *sat.Queue[ClauseIndex]
	inClauseToProcess []bool

	// Priority queue of variables ordered by total number of occurrences,
	// smallest first. The queue is only used once initialized by Presolve.
	varPQ *yagh.IntMap[int]

	// Literal substitution applied to each added clause, typically produced
	// by ProbeAndFindEquivalentLiteral. Empty if unused.
	equivMapping []sat.Literal

	numTrivialClauses int
	unsat             bool
}

func NewPresolver(postsolver *Postsolver, options Options) *Presolver {
	return &Presolver{
		options:         options,
		postsolver:      postsolver,
		clauseToProcess: sat.NewQueue[ClauseIndex](128),
	}
}

// NumVariables returns the number of variables seen so far.
func (p *Presolver) NumVariables() int {
	return len(p.literalToClauseSizes) / 2
}

// SetEquivalentLiteralMapping installs a literal substitution that will be
// applied to every clause added from now on.
func (p *Presolver) SetEquivalentLiteralMapping(mapping []sat.Literal) {
	p.equivMapping = mapping
}

// AddBinaryClause adds the clause (a v b) to the database.
func (p *Presolver) AddBinaryClause(a sat.Literal, b sat.Literal) {
	p.AddClause([]sat.Literal{a, b})
}

// AddClause adds a clause to the database and registers it for processing.
// The clause is canonicalized first: literals are remapped through the
// equivalent-literal mapping (if any), sorted, and deduplicated. Trivially
// true clauses are dropped.
func (p *Presolver) AddClause(clause []sat.Literal) {
	if len(clause) == 0 {
		log.Fatal("added an empty clause to the presolver")
	}

	lits := make([]sat.Literal, len(clause))
	copy(lits, clause)
	if len(p.equivMapping) != 0 {
		for i, l := range lits {
			lits[i] = p.equivMapping[l]
		}
	}
	slices.Sort(lits)
	lits = slices.Compact(lits)

	// Check for trivial clauses.
	for i := 1; i < len(lits); i++ {
		if lits[i] == lits[i-1].Opposite() {
			p.numTrivialClauses++
			return
		}
	}

	ci := ClauseIndex(len(p.clauses))
	p.clauses = append(p.clauses, lits)
	p.inClauseToProcess = append(p.inClauseToProcess, true)
	p.clauseToProcess.Push(ci)

	maxLiteral := lits[len(lits)-1]
	requiredSize := int(max(maxLiteral, maxLiteral.Opposite())) + 1
	for len(p.literalToClauses) < requiredSize {
		p.literalToClauses = append(p.literalToClauses, nil)
		p.literalToClauseSizes = append(p.literalToClauseSizes, 0)
	}
	for _, l := range lits {
		p.literalToClauses[l] = append(p.literalToClauses[l], ci)
		p.literalToClauseSizes[l]++
	}
}

// addClauseInternal registers a clause produced by the presolver itself
// (a BVE resolvent). It takes ownership of lits. It returns false if the
// clause is empty, which proves the formula unsatisfiable.
func (p *Presolver) addClauseInternal(lits []sat.Literal) bool {
	if len(lits) == 0 {
		return false // resolved a unit clause against its negation
	}
	ci := ClauseIndex(len(p.clauses))
	p.clauses = append(p.clauses, lits)
	p.inClauseToProcess = append(p.inClauseToProcess, true)
	p.clauseToProcess.Push(ci)
	for _, l := range lits {
		p.literalToClauses[l] = append(p.literalToClauses[l], ci)
		p.literalToClauseSizes[l]++
	}
	return true
}

// VariableMapping returns a dense remapping of the variables that still have
// at least one occurrence in the database. Variables without occurrences are
// mapped to sat.NilVariable.
func (p *Presolver) VariableMapping() []sat.Variable {
	result := make([]sat.Variable, 0, p.NumVariables())
	next := sat.Variable(0)
	for v := sat.Variable(0); int(v) < p.NumVariables(); v++ {
		if p.literalToClauseSizes[sat.PositiveLiteral(v)] > 0 ||
			p.literalToClauseSizes[sat.NegativeLiteral(v)] > 0 {
			result = append(result, next)
			next++
		} else {
			result = append(result, sat.NilVariable)
		}
	}
	return result
}

// LoadProblemIntoSatSolver moves the simplified problem into the given
// solver, applying the dense variable remapping returned by VariableMapping.
// The presolver's database is consumed: no simplification can be performed
// after this call.
func (p *Presolver) LoadProblemIntoSatSolver(solver *sat.Solver) {
	// Cleanup some memory that is not needed anymore. Note that the
	// occurrence sizes are still needed for VariableMapping to work.
	p.varPQ = nil
	p.inClauseToProcess = nil
	p.clauseToProcess = nil
	p.literalToClauses = nil

	mapping := p.VariableMapping()
	newSize := 0
	for _, v := range mapping {
		if v != sat.NilVariable {
			newSize++
		}
	}
	solver.SetNumVariables(newSize)

	tmp := []sat.Literal{}
	for i := range p.clauses {
		if len(p.clauses[i]) == 0 {
			continue
		}
		tmp = tmp[:0]
		for _, l := range p.clauses[i] {
			mv := mapping[l.Variable()]
			if mv == sat.NilVariable {
				log.Fatalf("literal %s of a live clause has no mapped variable", l)
			}
			tmp = append(tmp, sat.NewLiteral(mv, l.IsPositive()))
		}
		solver.AddClause(tmp)
		p.clauses[i] = nil
	}
}

// ProcessAllClauses drains the clause queue, using each clause in turn to
// simplify the rest of the database. It returns false if the formula was
// proven unsatisfiable.
func (p *Presolver) ProcessAllClauses() bool {
	for !p.clauseToProcess.IsEmpty() {
		ci := p.clauseToProcess.Pop()
		p.inClauseToProcess[ci] = false
		if !p.ProcessClauseToSimplifyOthers(ci) {
			return false
		}
	}
	return true
}

// Presolve simplifies the database until fixpoint: subsumption and
// strengthening first, then variable elimination guided by the variable
// priority queue, re-running the clause queue whenever elimination changed
// the database. It returns false if the formula was proven unsatisfiable.
func (p *Presolver) Presolve() bool {
	if !p.ProcessAllClauses() {
		return false
	}

	p.initializePriorityQueue()
	for {
		entry, ok := p.varPQ.Pop()
		if !ok {
			break
		}
		if p.CrossProduct(sat.PositiveLiteral(sat.Variable(entry.Elem))) {
			if p.unsat {
				return false
			}
			if !p.ProcessAllClauses() {
				return false
			}
		}
	}
	return true
}

// ProcessClauseToSimplifyOthers uses the given clause to delete the clauses
// it subsumes and to strengthen the clauses it self-subsumes. It returns
// false if a clause became empty, which proves the formula unsatisfiable.
func (p *Presolver) ProcessClauseToSimplifyOthers(clauseIndex ClauseIndex) bool {
	clause := p.clauses[clauseIndex]
	if len(clause) == 0 {
		return true
	}

	lit := p.findLiteralWithShortestOccurrenceList(clause)

	// Try to simplify the clauses containing lit. We take advantage of this
	// loop to also remove the deleted clauses from the list.
	{
		occurrenceList := p.literalToClauses[lit]
		newIndex := 0
		for _, ci := range occurrenceList {
			if len(p.clauses[ci]) == 0 {
				continue
			}
			if ci != clauseIndex {
				if subsumed, opposite := SimplifyClause(clause, &p.clauses[ci]); subsumed {
					if opposite == sat.NilLiteral {
						p.remove(ci)
						continue
					}
					if opposite == lit {
						log.Fatalf("clause %d self-subsumed on its own pivot", ci)
					}
					if len(p.clauses[ci]) == 0 {
						return false // UNSAT
					}

					// Remove ci from the occurrence list of the literal that
					// was erased. Note that this list cannot be the one being
					// scanned, nor its negation.
					p.removeFromOccurrenceList(opposite, ci)
					p.literalToClauseSizes[opposite]--
					p.updatePriorityQueue(opposite.Variable())

					if !p.inClauseToProcess[ci] {
						p.inClauseToProcess[ci] = true
						p.clauseToProcess.Push(ci)
					}
				}
			}
			occurrenceList[newIndex] = ci
			newIndex++
		}
		if p.literalToClauseSizes[lit] != newIndex {
			log.Fatalf("occurrence size mismatch for %s: %d != %d",
				lit, p.literalToClauseSizes[lit], newIndex)
		}
		p.literalToClauses[lit] = occurrenceList[:newIndex]
		p.literalToClauseSizes[lit] = newIndex
	}

	// Now treat the clauses containing ¬lit. Here, the only literal that can
	// be erased by SimplifyClause is ¬lit itself (self-subsuming resolution).
	{
		occurrenceList := p.literalToClauses[lit.Opposite()]
		newIndex := 0
		somethingRemoved := false
		for _, ci := range occurrenceList {
			if len(p.clauses[ci]) == 0 {
				continue
			}
			if subsumed, opposite := SimplifyClause(clause, &p.clauses[ci]); subsumed {
				if opposite != lit.Opposite() {
					log.Fatalf("unexpected erased literal %s, want %s", opposite, lit.Opposite())
				}
				if len(p.clauses[ci]) == 0 {
					return false // UNSAT
				}
				if !p.inClauseToProcess[ci] {
					p.inClauseToProcess[ci] = true
					p.clauseToProcess.Push(ci)
				}
				somethingRemoved = true
				continue
			}
			occurrenceList[newIndex] = ci
			newIndex++
		}
		p.literalToClauses[lit.Opposite()] = occurrenceList[:newIndex]
		p.literalToClauseSizes[lit.Opposite()] = newIndex
		if somethingRemoved {
			p.updatePriorityQueue(lit.Variable())
		}
	}

	return true
}

// CrossProduct tries to eliminate the variable of x by replacing all the
// clauses containing x or ¬x with their pairwise resolvents. The elimination
// is performed only if the total size of the resolvents stays under the size
// of the replaced clauses (plus a per-clause weight). Clauses producing no
// resolvent at all are blocked and removed eagerly.
//
// It returns true if the database was changed, i.e. if the variable was
// eliminated or if at least one blocked clause was removed.
func (p *Presolver) CrossProduct(x sat.Literal) bool {
	s1 := p.literalToClauseSizes[x]
	s2 := p.literalToClauseSizes[x.Opposite()]

	if s1 == 0 && s2 == 0 {
		return false
	}

	// Heuristic. Abort if the work required to decide if x should be removed
	// seems too big.
	if s1 > 1 && s2 > 1 && s1*s2 > p.options.BVEThreshold {
		return false
	}

	// Compute the threshold under which x is not removed.
	threshold := 0
	clauseWeight := p.options.BVEClauseWeight
	for _, ci := range p.literalToClauses[x] {
		if len(p.clauses[ci]) != 0 {
			threshold += clauseWeight + len(p.clauses[ci])
		}
	}
	for _, ci := range p.literalToClauses[x.Opposite()] {
		if len(p.clauses[ci]) != 0 {
			threshold += clauseWeight + len(p.clauses[ci])
		}
	}

	// For the blocked clause detection, we prefer the occurrence list of ¬x
	// to be the small one.
	if s1 < s2 {
		x = x.Opposite()
	}

	// Test whether the variable of x should be removed.
	size := 0
	blockedRemoved := false
	for _, ci := range p.literalToClauses[x] {
		if len(p.clauses[ci]) == 0 {
			continue
		}
		noResolvant := true
		for _, cj := range p.literalToClauses[x.Opposite()] {
			if len(p.clauses[cj]) == 0 {
				continue
			}
			rs := ComputeResolvantSize(x, p.clauses[ci], p.clauses[cj])
			if rs >= 0 {
				noResolvant = false
				size += clauseWeight + rs

				// Abort early if the resolvents become too big.
				if size > threshold {
					return blockedRemoved
				}
			}
		}
		if noResolvant {
			// The clause is blocked on x: every model of the rest of the
			// database can be extended to satisfy it by flipping x, which the
			// postsolve step will do.
			p.removeAndRegisterForPostsolve(ci, x)
			blockedRemoved = true
		}
	}

	// Add all the resolvent clauses. Note that the variable priority queue
	// will only be updated during the deletions below.
	for _, ci := range p.literalToClauses[x] {
		if len(p.clauses[ci]) == 0 {
			continue
		}
		for _, cj := range p.literalToClauses[x.Opposite()] {
			if len(p.clauses[cj]) == 0 {
				continue
			}
			if resolvant, ok := ComputeResolvant(x, p.clauses[ci], p.clauses[cj]); ok {
				if !p.addClauseInternal(resolvant) {
					p.unsat = true
					return true
				}
			}
		}
	}

	// Delete the old clauses.
	p.removeAndRegisterForPostsolveAllClausesContaining(x)
	p.removeAndRegisterForPostsolveAllClausesContaining(x.Opposite())

	return true
}

// remove deletes a clause without a postsolve record. This is only valid for
// subsumed clauses: any assignment satisfying the subsuming clause satisfies
// the subsumed one.
func (p *Presolver) remove(ci ClauseIndex) {
	for _, l := range p.clauses[ci] {
		p.literalToClauseSizes[l]--
		p.updatePriorityQueue(l.Variable())
	}
	p.clauses[ci] = nil
}

// removeAndRegisterForPostsolve deletes a clause and records it in the
// postsolve log with x as associated literal.
func (p *Presolver) removeAndRegisterForPostsolve(ci ClauseIndex, x sat.Literal) {
	for _, l := range p.clauses[ci] {
		p.literalToClauseSizes[l]--
		p.updatePriorityQueue(l.Variable())
	}
	p.postsolver.Add(x, p.clauses[ci])
	p.clauses[ci] = nil
}

func (p *Presolver) removeAndRegisterForPostsolveAllClausesContaining(x sat.Literal) {
	for _, ci := range p.literalToClauses[x] {
		if len(p.clauses[ci]) != 0 {
			p.removeAndRegisterForPostsolve(ci, x)
		}
	}
	p.literalToClauses[x] = nil
	p.literalToClauseSizes[x] = 0
}

func (p *Presolver) removeFromOccurrenceList(l sat.Literal, ci ClauseIndex) {
	occurrenceList := p.literalToClauses[l]
	for i, cj := range occurrenceList {
		if cj == ci {
			p.literalToClauses[l] = append(occurrenceList[:i], occurrenceList[i+1:]...)
			return
		}
	}
	log.Fatalf("clause %d not found in the occurrence list of %s", ci, l)
}

func (p *Presolver) findLiteralWithShortestOccurrenceList(clause []sat.Literal) sat.Literal {
	result := clause[0]
	for _, l := range clause {
		if p.literalToClauseSizes[l] < p.literalToClauseSizes[result] {
			result = l
		}
	}
	return result
}

// updatePriorityQueue re-keys the given variable in the priority queue. This
// must be called every time one of the variable's occurrence counts changes.
func (p *Presolver) updatePriorityQueue(v sat.Variable) {
	if p.varPQ == nil {
		return // not initialized
	}
	weight := p.literalToClauseSizes[sat.PositiveLiteral(v)] +
		p.literalToClauseSizes[sat.NegativeLiteral(v)]
	p.varPQ.Put(int(v), weight)
}

func (p *Presolver) initializePriorityQueue() {
	numVars := p.NumVariables()
	p.varPQ = yagh.New[int](numVars)
	for v := 0; v < numVars; v++ {
		weight := p.literalToClauseSizes[sat.PositiveLiteral(sat.Variable(v))] +
			p.literalToClauseSizes[sat.NegativeLiteral(sat.Variable(v))]
		p.varPQ.Put(v, weight)
	}
}

// Stats describes the current content of the clause database.
type Stats struct {
	NumClauses          int
	NumLiterals         int
	NumSingletonClauses int
	NumVariables        int
	NumOneSided         int
	NumSimpleDefinition int
	NumTrivialClauses   int
}

// Stats returns statistics on the live clauses of the database.
func (p *Presolver) Stats() Stats {
	st := Stats{NumTrivialClauses: p.numTrivialClauses}
	for _, c := range p.clauses {
		if len(c) == 0 {
			continue
		}
		if len(c) == 1 {
			st.NumSingletonClauses++
		}
		st.NumClauses++
		st.NumLiterals += len(c)
	}
	for v := sat.Variable(0); int(v) < p.NumVariables(); v++ {
		s1 := p.literalToClauseSizes[sat.PositiveLiteral(v)]
		s2 := p.literalToClauseSizes[sat.NegativeLiteral(v)]
		if s1 == 0 && s2 == 0 {
			continue
		}
		st.NumVariables++
		if s1 == 0 || s2 == 0 {
			st.NumOneSided++
		} else if s1 == 1 || s2 == 1 {
			st.NumSimpleDefinition++
		}
	}
	return st
}
