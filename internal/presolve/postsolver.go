package presolve

import (
	"log"

	"github.com/rhartert/bop/internal/sat"
)

// Postsolver records the destructive steps performed by the presolver and
// the prober, and replays them in reverse to extend a solution of the
// simplified formula into a solution of the original one.
//
// Each log entry associates a literal x with the clause whose deletion x
// justified. During postsolve, if the clause is not already satisfied by the
// reconstructed assignment, then x is forced to true; otherwise x is free.
type Postsolver struct {
	// Number of variables of the original formula.
	numVariables int

	// Mapping from the current (internal) variables to the variables of the
	// original formula. Initially the identity.
	reverseMapping []sat.Variable

	// The log. Clause i is stored in clausesLiterals[clausesStart[i]:] up to
	// the start of clause i+1. All literals are expressed in the original
	// variable space.
	associatedLiterals []sat.Literal
	clausesStart       []int
	clausesLiterals    []sat.Literal

	// Assignment over the original literals, used by FixVariable and by the
	// solution reconstruction.
	assignment []sat.LBool
}

func NewPostsolver(numVariables int) *Postsolver {
	reverseMapping := make([]sat.Variable, numVariables)
	for v := range reverseMapping {
		reverseMapping[v] = sat.Variable(v)
	}
	return &Postsolver{
		numVariables:   numVariables,
		reverseMapping: reverseMapping,
		assignment:     make([]sat.LBool, 2*numVariables),
	}
}

// Add appends an entry to the postsolve log. Both x and the clause are
// remapped to the original variable space before being stored. The literal x
// must belong to the clause.
func (p *Postsolver) Add(x sat.Literal, clause []sat.Literal) {
	if len(clause) == 0 {
		log.Fatal("added an empty clause to the postsolver")
	}
	p.associatedLiterals = append(p.associatedLiterals, p.applyReverseMapping(x))
	p.clausesStart = append(p.clausesStart, len(p.clausesLiterals))
	for _, l := range clause {
		p.clausesLiterals = append(p.clausesLiterals, p.applyReverseMapping(l))
	}
}

// FixVariable asserts that the given (internal) literal is true in the
// original formula. This is used when a literal is fixed by probing and its
// variable is then removed from the problem.
func (p *Postsolver) FixVariable(x sat.Literal) {
	l := p.applyReverseMapping(x)
	if p.assignment[l] != sat.Unknown {
		log.Fatalf("literal %s is already assigned", l)
	}
	p.assignTrue(l)
}

// ApplyMapping composes the reverse mapping with the inverse of the given
// mapping. This must be called each time the presolver renames the variables
// (see Presolver.VariableMapping).
func (p *Postsolver) ApplyMapping(mapping []sat.Variable) {
	newMapping := make([]sat.Variable, len(p.reverseMapping))
	for i := range newMapping {
		newMapping[i] = sat.NilVariable
	}
	for v, image := range mapping {
		if image == sat.NilVariable {
			continue
		}
		if newMapping[image] != sat.NilVariable {
			log.Fatalf("variables %d and %d have the same image %d", newMapping[image], v, image)
		}
		if v >= len(p.reverseMapping) || p.reverseMapping[v] == sat.NilVariable {
			log.Fatalf("variable %d has no reverse image", v)
		}
		newMapping[image] = p.reverseMapping[v]
	}
	p.reverseMapping = newMapping
}

func (p *Postsolver) applyReverseMapping(l sat.Literal) sat.Literal {
	v := l.Variable()
	if int(v) >= len(p.reverseMapping) || p.reverseMapping[v] == sat.NilVariable {
		log.Fatalf("literal %s has no reverse image", l)
	}
	return sat.NewLiteral(p.reverseMapping[v], l.IsPositive())
}

// Postsolve completes the given assignment over the original variables by
// replaying the log in reverse. Unassigned variables are first set to true,
// which is a valid completion of any solution of the presolved problem.
func (p *Postsolver) Postsolve(assignment []sat.LBool) {
	for v := 0; v < p.numVariables; v++ {
		if l := sat.PositiveLiteral(sat.Variable(v)); assignment[l] == sat.Unknown {
			assignment[l] = sat.True
			assignment[l.Opposite()] = sat.False
		}
	}

	previousStart := len(p.clausesLiterals)
	for i := len(p.clausesStart) - 1; i >= 0; i-- {
		setAssociatedLiteral := true
		start := p.clausesStart[i]
		for _, l := range p.clausesLiterals[start:previousStart] {
			if assignment[l] == sat.True {
				setAssociatedLiteral = false
				break
			}
		}
		previousStart = start
		if setAssociatedLiteral {
			x := p.associatedLiterals[i]
			assignment[x] = sat.True
			assignment[x.Opposite()] = sat.False
		}
	}
}

// PostsolveSolution takes a solution of the presolved problem, expressed over
// the current internal variables, and returns the corresponding solution of
// the original problem.
func (p *Postsolver) PostsolveSolution(solution []bool) []bool {
	for v := 0; v < len(solution); v++ {
		if int(v) >= len(p.reverseMapping) || p.reverseMapping[v] == sat.NilVariable {
			log.Fatalf("variable %d has no reverse image", v)
		}
		l := sat.NewLiteral(p.reverseMapping[v], solution[v])
		if p.assignment[l] != sat.Unknown {
			log.Fatalf("variable %d is already assigned", p.reverseMapping[v])
		}
		p.assignTrue(l)
	}
	p.Postsolve(p.assignment)

	postsolved := make([]bool, p.numVariables)
	for v := range postsolved {
		postsolved[v] = p.assignment[sat.PositiveLiteral(sat.Variable(v))] == sat.True
	}
	return postsolved
}

// ExtractAndPostsolveSolution extracts the last model found by the given
// solver and returns the corresponding solution of the original problem.
func (p *Postsolver) ExtractAndPostsolveSolution(solver *sat.Solver) []bool {
	model := solver.LastModel()
	if model == nil {
		log.Fatal("the solver has no model to postsolve")
	}
	return p.PostsolveSolution(model)
}

func (p *Postsolver) assignTrue(l sat.Literal) {
	p.assignment[l] = sat.True
	p.assignment[l.Opposite()] = sat.False
}
