package dag

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError names the packages that sit on a dependency cycle. Blocked
// lists the packages that could not be ordered only because they depend on
// a cycle.
type CycleError struct {
	Names   []string
	Blocked []string
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("dependency cycle detected among packages: %s", strings.Join(e.Names, ", "))
	if len(e.Blocked) > 0 {
		msg += fmt.Sprintf(" (blocked: %s)", strings.Join(e.Blocked, ", "))
	}
	return msg
}

// Order returns the packages affected by seed in dependency order. The seed
// is first extended with every transitive dependent. Each entry's level is
// one more than the highest level among its in-set dependencies, so
// level(P) > level(D) whenever P depends on D. Entries are sorted by level,
// then name. If the set contains a cycle, a *CycleError naming the packages
// on the cycle, and separately those stuck behind it, is returned instead of
// a partial order.
func (g *Graph) Order(seed []string) ([]Entry, error) {
	members, err := g.DependentsClosure(seed)
	if err != nil {
		return nil, err
	}
	inSet := make(map[string]bool, len(members))
	for _, name := range members {
		inSet[name] = true
	}

	inDegree := make(map[string]int, len(members))
	level := make(map[string]int, len(members))
	queue := make([]string, 0, len(members))
	for _, name := range members {
		for dep := range g.nodes[name].deps {
			if inSet[dep] {
				inDegree[name]++
			}
		}
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]Entry, 0, len(members))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, Entry{Name: name, Level: level[name]})

		for _, dependent := range sortedKeys(g.nodes[name].dependents) {
			if !inSet[dependent] {
				continue
			}
			if level[name]+1 > level[dependent] {
				level[dependent] = level[name] + 1
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) < len(members) {
		resolved := make(map[string]bool, len(order))
		for _, e := range order {
			resolved[e.Name] = true
		}
		var unresolved []string
		for _, name := range members {
			if !resolved[name] {
				unresolved = append(unresolved, name)
			}
		}
		cyclic := g.onCycle(unresolved)
		onCycle := make(map[string]bool, len(cyclic))
		for _, name := range cyclic {
			onCycle[name] = true
		}
		var blocked []string
		for _, name := range unresolved {
			if !onCycle[name] {
				blocked = append(blocked, name)
			}
		}
		sort.Strings(blocked)
		return nil, &CycleError{Names: cyclic, Blocked: blocked}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Level != order[j].Level {
			return order[i].Level < order[j].Level
		}
		return order[i].Name < order[j].Name
	})
	return order, nil
}

// onCycle filters candidates down to the packages that can reach themselves
// through dependents within candidates.
func (g *Graph) onCycle(candidates []string) []string {
	allowed := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		allowed[name] = true
	}

	var cyclic []string
	for _, start := range candidates {
		visited := make(map[string]bool)
		queue := []string{start}
		found := false
		for len(queue) > 0 && !found {
			name := queue[0]
			queue = queue[1:]
			for next := range g.nodes[name].dependents {
				if !allowed[next] {
					continue
				}
				if next == start {
					found = true
					break
				}
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		if found {
			cyclic = append(cyclic, start)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}
