// Package encoding implements the lazy cardinality encoding used by the
// core-guided optimizer. An encoding node represents the number of violated
// objective literals in a subset of the objective, as a unary counter whose
// output literals are materialized on demand.
package encoding

import (
	"log"

	"github.com/rhartert/bop/internal/sat"
	"github.com/rhartert/yagh"
)

// WeightedLiteral is a term of a linear boolean objective.
type WeightedLiteral struct {
	Literal sat.Literal
	Weight  int64
}

// Node represents a lazy cardinality constraint over a weighted set of
// literals. Writing S for the (unknown) number of violated literals under
// the node, the node maintains lb <= S <= ub, and its i-th output literal is
// true when S >= lb+i+1. The negation of output 0 is used as an assumption
// by the optimizer: assuming it means "no more than lb violations here".
//
// Nodes form a DAG under merging. Inner nodes have exactly two children and
// materialize only the output literals that the optimizer needed so far.
type Node struct {
	depth  int
	lb     int
	ub     int
	weight int64
	childA *Node
	childB *Node
	lits   []sat.Literal
}

// Repository owns every node created during an optimizer session. Nodes are
// never freed individually: dropping the repository releases them all.
type Repository struct {
	nodes []*Node
}

// Size returns the number of nodes created so far.
func (r *Repository) Size() int {
	return len(r.nodes)
}

func (r *Repository) newNode() *Node {
	n := &Node{}
	r.nodes = append(r.nodes, n)
	return n
}

// newLeafNode returns a node counting the single violation literal l.
func (r *Repository) newLeafNode(l sat.Literal, weight int64) *Node {
	n := r.newNode()
	n.lb = 0
	n.ub = 1
	n.weight = weight
	n.lits = []sat.Literal{l}
	return n
}

// newLazyNode returns a node representing the sum of a and b. A single
// output literal is created; it is implied by the first output of either
// child. Further outputs and their defining clauses are added on demand by
// IncreaseNodeSize.
func (r *Repository) newLazyNode(a *Node, b *Node, solver *sat.Solver) *Node {
	n := r.newNode()
	v := solver.AddVariable()
	n.lits = []sat.Literal{sat.PositiveLiteral(v)}
	n.childA = a
	n.childB = b
	n.lb = a.lb + b.lb
	n.ub = a.ub + b.ub
	n.depth = 1 + max(a.depth, b.depth)

	solver.AddBinaryClause(a.lits[0].Opposite(), n.lits[0])
	solver.AddBinaryClause(b.lits[0].Opposite(), n.lits[0])
	return n
}

// Size returns the number of output literals currently materialized.
func (n *Node) Size() int {
	return len(n.lits)
}

// Literal returns the i-th output literal of the node.
func (n *Node) Literal(i int) sat.Literal {
	return n.lits[i]
}

func (n *Node) Weight() int64 {
	return n.weight
}

func (n *Node) SetWeight(w int64) {
	n.weight = w
}

func (n *Node) Depth() int {
	return n.depth
}

// Reduce removes the output literals that are fixed at the solver's root
// level: leading true outputs increase the node's lower bound, trailing
// false outputs decrease its upper bound. It returns the number of
// violations newly proven, i.e. the increment of the node's lower bound.
func (n *Node) Reduce(solver *sat.Solver) int {
	i := 0
	for i < len(n.lits) && solver.LitValue(n.lits[i]) == sat.True {
		i++
		n.lb++
	}
	n.lits = n.lits[i:]
	for len(n.lits) > 0 && solver.LitValue(n.lits[len(n.lits)-1]) == sat.False {
		n.lits = n.lits[:len(n.lits)-1]
		n.ub = n.lb + len(n.lits)
	}
	return i
}

// ApplyUpperBound forbids more than upperBound violations under the node on
// top of its lower bound, by asserting the negation of the outputs beyond it
// as unit clauses.
func (n *Node) ApplyUpperBound(upperBound int64, solver *sat.Solver) {
	if int64(len(n.lits)) <= upperBound {
		return
	}
	for i := upperBound; i < int64(len(n.lits)); i++ {
		solver.AddUnitClause(n.lits[i].Opposite())
	}
	n.lits = n.lits[:upperBound]
	n.ub = n.lb + int(upperBound)
}

// IncreaseNodeSize materializes one more output literal of the node,
// recursively extending its children so that every way of reaching the new
// output's count can be expressed, and adds the clauses connecting the
// children's outputs to the new output. Leaf nodes and nodes already at
// their upper bound are left unchanged.
func IncreaseNodeSize(n *Node, solver *sat.Solver) {
	if n.childA == nil {
		return // leaf nodes have a fixed size
	}
	if n.lb+len(n.lits) >= n.ub {
		return // all possible outputs are already materialized
	}

	v := solver.AddVariable()
	out := sat.PositiveLiteral(v)
	n.lits = append(n.lits, out)

	// The new output means S >= target.
	target := n.lb + len(n.lits)
	a, b := n.childA, n.childB

	if a.lb+len(a.lits) < min(a.ub, target-b.lb) {
		IncreaseNodeSize(a, solver)
	}
	if b.lb+len(b.lits) < min(b.ub, target-a.lb) {
		IncreaseNodeSize(b, solver)
	}

	// For every split alpha+beta = target with alpha (resp. beta) expressible
	// by a (resp. b): (A >= alpha) and (B >= beta) imply the new output.
	for ia := 0; ia <= len(a.lits); ia++ {
		alpha := a.lb + ia
		ib := target - alpha - b.lb
		if ib < 0 || ib > len(b.lits) {
			continue
		}
		clause := make([]sat.Literal, 0, 3)
		if ia > 0 {
			clause = append(clause, a.lits[ia-1].Opposite())
		}
		if ib > 0 {
			clause = append(clause, b.lits[ib-1].Opposite())
		}
		clause = append(clause, out)
		solver.AddClause(clause)
	}
}

// CreateInitialEncodingNodes creates one leaf node per objective term. Terms
// with a negative weight are rewritten as the positive-weight violation of
// the opposite literal; the total rewriting constant is returned as offset,
// so that (objective cost + offset) equals the weighted violation count.
func CreateInitialEncodingNodes(objective []WeightedLiteral, repository *Repository) (nodes []*Node, offset int64) {
	for _, term := range objective {
		switch {
		case term.Weight > 0:
			n := repository.newLeafNode(term.Literal, term.Weight)
			nodes = append(nodes, n)
		case term.Weight < 0:
			n := repository.newLeafNode(term.Literal.Opposite(), -term.Weight)
			nodes = append(nodes, n)
			offset += -term.Weight
		}
	}
	return nodes, offset
}

// LazyMergeAllNodeWithPQ merges the given nodes two by two until a single
// node representing their sum remains. The two shallowest nodes are always
// merged first to keep the resulting DAG balanced.
func LazyMergeAllNodeWithPQ(toMerge []*Node, solver *sat.Solver, repository *Repository) *Node {
	if len(toMerge) == 0 {
		log.Fatal("no node to merge")
	}

	pq := yagh.New[int](2 * len(toMerge))
	nodes := make([]*Node, 0, 2*len(toMerge)-1)
	for _, n := range toMerge {
		pq.Put(len(nodes), n.depth)
		nodes = append(nodes, n)
	}

	for {
		first, _ := pq.Pop()
		second, ok := pq.Pop()
		if !ok {
			return nodes[first.Elem]
		}
		merged := repository.newLazyNode(nodes[first.Elem], nodes[second.Elem], solver)
		pq.Put(len(nodes), merged.depth)
		nodes = append(nodes, merged)
	}
}
