package sat

import "fmt"

// Variable represents the index of a boolean variable.
type Variable int

// NilVariable is the special value used to represent the absence of a
// variable, e.g. in remapping tables.
const NilVariable Variable = -1

// Literal represents a literal, which either represent a boolean variable or
// its negation. The literal of variable v has index 2v, its negation has
// index 2v+1. This encoding makes a literal and its opposite adjacent when
// sorted.
type Literal int

// NilLiteral is the special value used to represent the absence of a literal.
const NilLiteral Literal = -1

// NewLiteral returns the literal representing variable v if positive is true,
// and its negation otherwise.
func NewLiteral(v Variable, positive bool) Literal {
	if positive {
		return Literal(v * 2)
	}
	return Literal(v*2) + 1
}

// PositiveLiteral returns the literal representing variable v.
func PositiveLiteral(v Variable) Literal {
	return Literal(v * 2)
}

// NegativeLiteral returns the literal representing the negation of variable v.
func NegativeLiteral(v Variable) Literal {
	return PositiveLiteral(v).Opposite()
}

// Variable returns the literal's variable.
func (l Literal) Variable() Variable {
	return Variable(l / 2)
}

// IsPositive returns true if and only if the literal represent the value of
// its boolean variable (i.e. not its negation).
func (l Literal) IsPositive() bool {
	return l&1 == 0
}

// Opposite returns the opposite literal.
func (l Literal) Opposite() Literal {
	return l ^ 1
}

func (l Literal) String() string {
	if l == NilLiteral {
		return "nil"
	}
	if l.IsPositive() {
		return fmt.Sprintf("%d", l.Variable())
	} else {
		return fmt.Sprintf("!%d", l.Variable())
	}
}
