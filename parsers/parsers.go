// Package parsers loads DIMACS CNF instances into the solving pipeline.
package parsers

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/rhartert/bop/internal/sat"
	"github.com/rhartert/dimacs"
)

// Instance is a CNF formula read from a DIMACS file.
type Instance struct {
	Variables int
	Clauses   [][]sat.Literal
}

func reader(filename string, gzipped bool) (io.ReadCloser, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	rc := io.ReadCloser(file)
	if gzipped {
		rc, err = gzip.NewReader(rc)
		if err != nil {
			return nil, err
		}
	}
	return rc, nil
}

// LoadDIMACS parses the given DIMACS CNF file and returns the corresponding
// instance.
func LoadDIMACS(filename string, gzipped bool) (*Instance, error) {
	reader, err := reader(filename, gzipped)
	if err != nil {
		return nil, fmt.Errorf("error reading file %q: %s", filename, err)
	}
	defer reader.Close()

	b := &builder{}
	if err := dimacs.ReadBuilder(reader, b); err != nil {
		return nil, err
	}
	return &b.instance, nil
}

// builder implements dimacs.Builder.
type builder struct {
	instance Instance
}

func (b *builder) Problem(problem string, nVars int, nClauses int) error {
	if problem != "cnf" {
		return fmt.Errorf("not a CNF problem")
	}
	b.instance.Variables = nVars
	return nil
}

func (b *builder) Clause(tmpClause []int) error {
	clause := make([]sat.Literal, len(tmpClause))
	for i, l := range tmpClause {
		if l < 0 {
			clause[i] = sat.NegativeLiteral(sat.Variable(-l - 1))
		} else {
			clause[i] = sat.PositiveLiteral(sat.Variable(l - 1))
		}
	}
	b.instance.Clauses = append(b.instance.Clauses, clause)
	return nil
}

func (b *builder) Comment(_ string) error {
	return nil // ignore comments
}
