package admission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/foreman/types"
)

// ValidationError aggregates every problem found in a job. The whole job
// is rejected; no orders are persisted on any failure.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("job rejected: %s", strings.Join(e.Problems, "; "))
}

// ErrCycle indicates the dependency graph is not a DAG.
var ErrCycle = errors.New("dependency cycle")

// ValidateJob checks the whole job fail-fast and returns every problem
// at once.
func ValidateJob(job *types.Job) error {
	var problems []string

	if job.Username == "" {
		problems = append(problems, "username is required")
	}
	if len(job.Orders) == 0 {
		problems = append(problems, "job has no orders")
	}

	names := make(map[string]int, len(job.Orders))
	for i, o := range job.Orders {
		if prev, dup := names[o.OrderName]; dup {
			problems = append(problems, fmt.Sprintf("orders %d and %d share name %q", prev, i, o.OrderName))
		}
		names[o.OrderName] = i
	}

	for i, o := range job.Orders {
		label := fmt.Sprintf("order %d (%s)", i, o.OrderName)

		if len(o.Cmds) == 0 && o.Target() != types.TargetRemoteAgent {
			problems = append(problems, label+": cmds must be non-empty")
		}
		if o.TimeoutS <= 0 {
			problems = append(problems, label+": timeout_s must be positive")
		}
		if t := o.Target(); !t.Valid() {
			problems = append(problems, fmt.Sprintf("%s: execution_target %q is not one of %v", label, t, types.ExecutionTargets()))
		}

		// Remote-agent orders may run a command document alone, without
		// a code source.
		hasBundle := o.Source.BundleLocation != ""
		hasRepo := o.Source.Repo != ""
		switch {
		case hasBundle && hasRepo:
			problems = append(problems, label+": source must have exactly one of bundle_location or repo")
		case !hasBundle && !hasRepo && o.Target() != types.TargetRemoteAgent:
			problems = append(problems, label+": source is required")
		case hasRepo && o.Source.TokenRef == "":
			problems = append(problems, label+": repo source requires token_ref")
		}

		if o.Target() == types.TargetRemoteAgent {
			if len(o.Targets) == 0 {
				problems = append(problems, label+": remote-agent orders require targets")
			}
			if o.DocumentRef == "" {
				problems = append(problems, label+": remote-agent orders require document_ref")
			}
		}

		for _, dep := range o.Dependencies {
			if dep == o.OrderName {
				problems = append(problems, label+": depends on itself")
				continue
			}
			if _, ok := names[dep]; !ok {
				problems = append(problems, fmt.Sprintf("%s: unknown dependency %q", label, dep))
			}
		}
	}

	if len(problems) == 0 {
		if _, err := TopoSort(job.Orders); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// TopoSort orders the orders so every dependency precedes its dependents.
// Fails with ErrCycle when the graph is not a DAG. Kahn's algorithm;
// ready orders are taken in submission order so the result is stable.
func TopoSort(orders []*types.Order) ([]*types.Order, error) {
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		index[o.OrderName] = i
	}

	indegree := make([]int, len(orders))
	dependents := make([][]int, len(orders))
	for i, o := range orders {
		for _, dep := range o.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q", dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var queue []int
	for i := range orders {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	sorted := make([]*types.Order, 0, len(orders))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		sorted = append(sorted, orders[i])
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}

	if len(sorted) != len(orders) {
		var stuck []string
		for i, o := range orders {
			if indegree[i] > 0 {
				stuck = append(stuck, o.OrderName)
			}
		}
		return nil, fmt.Errorf("%w involving %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return sorted, nil
}
