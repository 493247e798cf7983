package presolve

import (
	"log"

	"github.com/rhartert/bop/internal/sat"
)

// propagationGraph is a virtual directed graph on the literals of a solver:
// the successors of a literal l are the literals propagated by the solver
// when l is decided at the root. Edges are produced on demand and a
// deterministic time deadline bounds the total exploration cost. Once the
// deadline is passed, the remaining nodes expose empty adjacency lists so
// that the SCC computation terminates with a correct (if incomplete) result.
type propagationGraph struct {
	solver   *sat.Solver
	deadline float64
}

func newPropagationGraph(deterministicTimeLimit float64, solver *sat.Solver) *propagationGraph {
	return &propagationGraph{
		solver:   solver,
		deadline: solver.DeterministicTime() + deterministicTimeLimit,
	}
}

// adjacency returns the successors of the given literal index. Repeated
// queries on the same literal from the same root-level state are idempotent:
// the solver is backtracked to the root before each probe.
func (g *propagationGraph) adjacency(index int) []int {
	g.solver.Backtrack(0)

	if g.solver.DeterministicTime() > g.deadline {
		return nil
	}

	l := sat.Literal(index)
	if g.solver.LitValue(l) != sat.Unknown {
		return nil
	}

	trailIndex := g.solver.TrailIndex()
	g.solver.EnqueueDecisionAndBackjumpOnConflict(l)
	if g.solver.CurrentDecisionLevel() == 0 {
		return nil
	}

	// Note that the +1 skips l itself to avoid adding l => l edges.
	trail := g.solver.LiteralTrail()
	successors := make([]int, 0, g.solver.TrailIndex()-trailIndex-1)
	for i := trailIndex + 1; i < g.solver.TrailIndex(); i++ {
		successors = append(successors, int(trail[i]))
	}
	return successors
}

// findStronglyConnectedComponents returns the strongly connected components
// of the directed graph with the given number of nodes and adjacency
// function. The implementation is an iterative Tarjan so that deep
// implication chains cannot overflow the stack. The adjacency function is
// called exactly once per node.
func findStronglyConnectedComponents(numNodes int, adjacency func(int) []int) [][]int {
	const unvisited = -1

	index := make([]int, numNodes)
	lowlink := make([]int, numNodes)
	onStack := make([]bool, numNodes)
	for i := range index {
		index[i] = unvisited
	}

	type frame struct {
		node       int
		successors []int
		next       int
	}

	var components [][]int
	var stack []int
	var frames []frame
	counter := 0

	visit := func(node int) {
		index[node] = counter
		lowlink[node] = counter
		counter++
		stack = append(stack, node)
		onStack[node] = true
		frames = append(frames, frame{node: node, successors: adjacency(node)})
	}

	for root := 0; root < numNodes; root++ {
		if index[root] != unvisited {
			continue
		}
		visit(root)

		for len(frames) > 0 {
			top := len(frames) - 1
			node := frames[top].node

			if next := frames[top].next; next < len(frames[top].successors) {
				frames[top].next++
				w := frames[top].successors[next]
				if index[w] == unvisited {
					visit(w)
				} else if onStack[w] && index[w] < lowlink[node] {
					lowlink[node] = index[w]
				}
				continue
			}

			// All successors explored: pop the frame.
			frames = frames[:top]
			if len(frames) > 0 {
				if parent := frames[len(frames)-1].node; lowlink[node] < lowlink[parent] {
					lowlink[parent] = lowlink[node]
				}
			}
			if lowlink[node] == index[node] {
				var component []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					component = append(component, w)
					if w == node {
						break
					}
				}
				components = append(components, component)
			}
		}
	}

	return components
}

// mergingPartition is a union-find structure over literal indices. The
// representative of a class is always its smallest element, which guarantees
// that the representative of the class of ¬l is the negation of the
// representative of the class of l (assuming classes never mix a variable
// with itself).
type mergingPartition struct {
	parent []int
}

func newMergingPartition(n int) *mergingPartition {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &mergingPartition{parent: parent}
}

func (p *mergingPartition) mergePartsOf(a int, b int) {
	ra := p.rootAndCompressPath(a)
	rb := p.rootAndCompressPath(b)
	if ra < rb {
		p.parent[rb] = ra
	} else if rb < ra {
		p.parent[ra] = rb
	}
}

func (p *mergingPartition) rootAndCompressPath(i int) int {
	root := i
	for p.parent[root] != root {
		root = p.parent[root]
	}
	for p.parent[i] != root {
		p.parent[i], i = root, p.parent[i]
	}
	return root
}

// ProbeAndFindEquivalentLiteral probes all the literals of the solver and
// computes the strongly connected components of the resulting propagation
// graph. Literals of a component are equivalent and can be replaced by the
// component's representative.
//
// The returned mapping, indexed by literal, sends each literal to its
// representative (possibly itself). It is nil if no equivalence was found.
// Literals of a class containing a fixed literal are all fixed through unit
// clauses (they are still mapped to their representative), and each other
// substituted literal gets a postsolve entry so that its value can be
// recovered from the representative's.
func ProbeAndFindEquivalentLiteral(solver *sat.Solver, postsolver *Postsolver) []sat.Literal {
	solver.Backtrack(0)
	if solver.Propagate() != nil {
		return nil // conflict at the root level
	}

	graph := newPropagationGraph(
		solver.Parameters().ProbingDeterministicTimeLimit, solver)
	numNodes := solver.NumVariables() * 2
	components := findStronglyConnectedComponents(numNodes, graph.adjacency)

	// There is no guarantee that the components of l and ¬l touch the same
	// variables: the propagation may go in one direction only, and literals
	// probed later benefit from more learnt clauses. The components are thus
	// merged with their mirrored image in a partition.
	partition := newMergingPartition(numNodes)
	var mapping []sat.Literal
	for _, component := range components {
		if len(component) <= 1 {
			continue
		}
		if mapping == nil {
			mapping = make([]sat.Literal, numNodes)
			for i := range mapping {
				mapping[i] = sat.NilLiteral
			}
		}
		representative := sat.Literal(component[0])
		for _, i := range component[1:] {
			l := sat.Literal(i)
			partition.mergePartsOf(int(representative), int(l))
			partition.mergePartsOf(int(representative.Opposite()), int(l.Opposite()))
		}

		// The representative of a literal and the representative of its
		// negation must always be complementary.
		root := sat.Literal(partition.rootAndCompressPath(int(representative)))
		oppositeRoot := sat.Literal(partition.rootAndCompressPath(int(representative.Opposite())))
		if root != oppositeRoot.Opposite() {
			log.Fatalf("representatives %s and %s are not complementary", root, oppositeRoot)
		}
	}

	solver.Backtrack(0)
	if mapping == nil {
		return nil
	}

	// If a literal of a class is fixed, fix the representative too. The
	// second pass below then propagates the fixing to every member.
	for i := 0; i < numNodes; i++ {
		l := sat.Literal(i)
		rep := sat.Literal(partition.rootAndCompressPath(i))
		if solver.LitValue(l) != sat.Unknown && solver.LitValue(rep) == sat.Unknown {
			if solver.LitValue(l) == sat.True {
				solver.AddUnitClause(rep)
			} else {
				solver.AddUnitClause(rep.Opposite())
			}
		}
	}

	for i := 0; i < numNodes; i++ {
		l := sat.Literal(i)
		rep := sat.Literal(partition.rootAndCompressPath(i))
		mapping[i] = rep
		if solver.LitValue(rep) != sat.Unknown {
			if solver.LitValue(l) == sat.Unknown {
				if solver.LitValue(rep) == sat.True {
					solver.AddUnitClause(l)
				} else {
					solver.AddUnitClause(l.Opposite())
				}
			}
		} else if rep != l {
			if solver.LitValue(l) != sat.Unknown {
				log.Fatalf("literal %s is fixed but its representative %s is not", l, rep)
			}
			postsolver.Add(l, []sat.Literal{l, rep.Opposite()})
		}
	}

	return mapping
}
