// Package presolve implements a clause database simplifier for CNF formulas
// together with the machinery required to reconstruct a solution of the
// original formula from a solution of the simplified one.
//
// The simplifications performed are subsumption, self-subsuming resolution,
// bounded variable elimination (BVE), blocked clause elimination, and
// equivalent literal substitution (see probing.go).
package presolve

import "github.com/rhartert/bop/internal/sat"

// SimplifyClause returns true if clause a subsumes clause b, possibly after
// flipping the polarity of exactly one of b's literals (self-subsuming
// resolution). In the latter case, the flipped literal is removed from b in
// place and returned as opposite. For pure subsumption, opposite is
// sat.NilLiteral and b is left unchanged.
//
// Both clauses must be sorted. The function works as a merge of the two
// sorted sequences and aborts as soon as it can conclude that a cannot
// subsume b.
func SimplifyClause(a []sat.Literal, b *[]sat.Literal) (subsumed bool, opposite sat.Literal) {
	bb := *b
	if len(bb) < len(a) {
		return false, sat.NilLiteral
	}

	numDiff := 0
	toRemove := -1
	ia, ib := 0, 0

	// Because we abort early when sizeDiff becomes negative, there is no need
	// to test that ib is in bounds.
	sizeDiff := len(bb) - len(a)
	for ia < len(a) {
		switch {
		case a[ia] == bb[ib]: // same literal
			ia++
			ib++
		case a[ia] == bb[ib].Opposite(): // opposite literal
			numDiff++
			if numDiff > 1 {
				return false, sat.NilLiteral // too much difference
			}
			toRemove = ib
			ia++
			ib++
		case a[ia] < bb[ib]:
			return false, sat.NilLiteral // a literal of a is not in b
		default: // a[ia] > bb[ib]
			ib++

			// A literal of b is not in a, we can abort early by comparing the
			// sizes left.
			sizeDiff--
			if sizeDiff < 0 {
				return false, sat.NilLiteral
			}
		}
	}

	if numDiff == 1 {
		opp := bb[toRemove]
		*b = append(bb[:toRemove], bb[toRemove+1:]...)
		return true, opp
	}
	return true, sat.NilLiteral
}

// ComputeResolvant returns the resolvent of clauses a and b on literal x,
// that is the merge of a\{x} and b\{¬x}. The second return value is false if
// the resolvent is trivially true, i.e. if a and b share another variable
// with opposite polarities.
//
// Clauses a and b must be sorted, x must belong to a, and ¬x must belong
// to b.
func ComputeResolvant(x sat.Literal, a []sat.Literal, b []sat.Literal) ([]sat.Literal, bool) {
	out := make([]sat.Literal, 0, len(a)+len(b)-2)
	ia, ib := 0, 0
	for ia < len(a) && ib < len(b) {
		switch {
		case a[ia] == b[ib]:
			out = append(out, a[ia])
			ia++
			ib++
		case a[ia] == b[ib].Opposite():
			if a[ia] != x {
				return nil, false // trivially true
			}
			ia++
			ib++
		case a[ia] < b[ib]:
			out = append(out, a[ia])
			ia++
		default: // a[ia] > b[ib]
			out = append(out, b[ib])
			ib++
		}
	}

	// Copy remaining literals.
	out = append(out, a[ia:]...)
	out = append(out, b[ib:]...)
	return out, true
}

// ComputeResolvantSize returns the size that the resolvent of a and b on x
// would have, or -1 if the resolvent is trivially true. This is cheaper than
// actually computing the resolvent with ComputeResolvant.
func ComputeResolvantSize(x sat.Literal, a []sat.Literal, b []sat.Literal) int {
	size := len(a) + len(b) - 2
	ia, ib := 0, 0
	for ia < len(a) && ib < len(b) {
		switch {
		case a[ia] == b[ib]:
			size--
			ia++
			ib++
		case a[ia] == b[ib].Opposite():
			if a[ia] != x {
				return -1 // trivially true
			}
			ia++
			ib++
		case a[ia] < b[ib]:
			ia++
		default: // a[ia] > b[ib]
			ib++
		}
	}
	return size
}
