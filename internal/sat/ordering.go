package sat

import (
	"log"

	"github.com/rhartert/yagh"
)

type VarOrder struct {
	size        int
	solver      *Solver
	phase       []LBool
	phaseSaving bool
	heap        *yagh.IntMap[float64]
}

func NewVarOrder(s *Solver, nVar int) *VarOrder {
	vo := &VarOrder{
		size:        nVar,
		solver:      s,
		phase:       make([]LBool, nVar),
		phaseSaving: s.params.PhaseSaving,
		heap:        yagh.New[float64](nVar),
	}

	vo.UpdateAll()
	return vo
}

func (vo *VarOrder) Update(v Variable) {
	if vo.heap.Contains(int(v)) {
		vo.Undo(v)
	}
}

func (vo *VarOrder) UpdateAll() {
	for i := 0; i < vo.size; i++ {
		vo.Undo(Variable(i))
	}
}

func (vo *VarOrder) Undo(v Variable) {
	if vo.phaseSaving {
		vo.phase[v] = vo.solver.VarValue(v)
	}

	act := vo.solver.activities[v]
	vo.heap.Put(int(v), -act)
}

func (vo *VarOrder) Select() Literal {
	for {
		next, ok := vo.heap.Pop()
		if !ok {
			log.Fatalln("empty heap")
		}
		v := Variable(next.Elem)
		if vo.solver.VarValue(v) != Unknown {
			continue // already assigned
		}

		switch vo.phase[v] {
		case True:
			return PositiveLiteral(v)
		case False:
			return NegativeLiteral(v)
		default:
			if rng := vo.solver.rng; rng != nil && rng.Intn(50) == 0 {
				return PositiveLiteral(v)
			}
			return NegativeLiteral(v)
		}
	}
}
