package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/rhartert/bop/internal/presolve"
	"github.com/rhartert/bop/internal/sat"
	"github.com/rhartert/bop/parsers"
)

var flagCPUProfile = flag.Bool(
	"cpuprof",
	false,
	"save pprof CPU profile in cpuprof",
)

var flagMemProfile = flag.Bool(
	"memprof",
	false,
	"save pprof memory profile in memprof",
)

var flagMaxConflict = flag.Int64(
	"max_conflicts",
	-1,
	"maximum number of conflicts allowed to solve the problem (-1 = no maximum)",
)

var flagPresolve = flag.Bool(
	"presolve",
	true,
	"simplify the formula before solving it",
)

var flagProbing = flag.Bool(
	"probing",
	false,
	"detect equivalent literals by probing before solving",
)

func parseConfig() (*config, error) {
	flag.Parse()

	if flag.NArg() == 0 || flag.Arg(0) == "" {
		return nil, fmt.Errorf("missing instance file")
	}
	return &config{
		instanceFile: flag.Arg(0),
		memProfile:   *flagMemProfile,
		cpuProfile:   *flagCPUProfile,
		maxConflicts: *flagMaxConflict,
		presolve:     *flagPresolve,
		probing:      *flagProbing,
	}, nil
}

type config struct {
	instanceFile string
	memProfile   bool
	cpuProfile   bool
	maxConflicts int64
	presolve     bool
	probing      bool
}

func solverParameters(cfg *config) sat.Parameters {
	params := sat.DefaultParameters
	if cfg.maxConflicts >= 0 {
		params.MaxConflicts = cfg.maxConflicts
	}
	return params
}

// verify returns true if the given assignment satisfies all the instance's
// clauses.
func verify(instance *parsers.Instance, solution []bool) bool {
	for _, clause := range instance.Clauses {
		satisfied := false
		for _, l := range clause {
			if solution[l.Variable()] == l.IsPositive() {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

func printSolution(solution []bool) {
	sb := strings.Builder{}
	sb.WriteString("v")
	for v, value := range solution {
		if value {
			fmt.Fprintf(&sb, " %d", v+1)
		} else {
			fmt.Fprintf(&sb, " -%d", v+1)
		}
	}
	sb.WriteString(" 0")
	fmt.Println(sb.String())
}

func run(cfg *config) error {
	instance, err := parsers.LoadDIMACS(cfg.instanceFile, false)
	if err != nil {
		return fmt.Errorf("could not parse instance: %s", err)
	}

	fmt.Printf("c variables:  %d\n", instance.Variables)
	fmt.Printf("c clauses:    %d\n", len(instance.Clauses))

	t := time.Now()
	postsolver := presolve.NewPostsolver(instance.Variables)
	presolver := presolve.NewPresolver(postsolver, presolve.DefaultOptions)
	for _, clause := range instance.Clauses {
		presolver.AddClause(clause)
	}

	if cfg.presolve && !presolver.Presolve() {
		fmt.Printf("c time (sec): %f\n", time.Since(t).Seconds())
		fmt.Println("s UNSATISFIABLE")
		return nil
	}
	st := presolver.Stats()
	fmt.Printf("c presolved:  %d clauses, %d vars (%.3fs)\n",
		st.NumClauses, st.NumVariables, time.Since(t).Seconds())

	solver := sat.NewSolver(solverParameters(cfg))
	mapping := presolver.VariableMapping()
	postsolver.ApplyMapping(mapping)
	presolver.LoadProblemIntoSatSolver(solver)

	if cfg.probing {
		presolve.ProbeAndFindEquivalentLiteral(solver, postsolver)
	}

	status := solver.Solve()
	elapsed := time.Since(t)

	fmt.Printf("c time (sec): %f\n", elapsed.Seconds())
	fmt.Printf("c conflicts:  %d (%.2f /sec)\n", solver.TotalConflicts, float64(solver.TotalConflicts)/elapsed.Seconds())

	switch status {
	case sat.StatusSat:
		solution := postsolver.ExtractAndPostsolveSolution(solver)
		if !verify(instance, solution) {
			return fmt.Errorf("the postsolved assignment does not satisfy the instance")
		}
		fmt.Println("s SATISFIABLE")
		printSolution(solution)
	case sat.StatusUnsat:
		fmt.Println("s UNSATISFIABLE")
	default:
		fmt.Println("s UNKNOWN")
	}

	return nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.cpuProfile {
		f, err := os.Create("cpuprof")
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile {
		f, err := os.Create("memprof")
		if err != nil {
			log.Fatal(err)
		}
		pprof.WriteHeapProfile(f)
		f.Close()
		return
	}
}
