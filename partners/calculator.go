package partners

import (
	"github.com/golang/glog"

	"github.com/pubkit/adcoord/config"
	"github.com/pubkit/adcoord/errortypes"
)

// CriticalPath computes the largest sum of timeouts along any dependency
// chain through the active blocking partners. A cycle contributes 0 from the
// cyclic edge onward and is logged, never raised: a malformed graph must not
// block ad delivery. With no active partners the configured default applies.
func CriticalPath(blocking []config.Partner, defaultMs int) int {
	active := make(map[string]config.Partner, len(blocking))
	for _, p := range blocking {
		if p.Active {
			active[p.Name] = p
		}
	}
	if len(active) == 0 {
		return defaultMs
	}

	longest := 0
	for name := range active {
		visited := make(map[string]bool, len(active))
		if ms := chainTimeout(name, active, visited); ms > longest {
			longest = ms
		}
	}
	return longest
}

// chainTimeout sums the partner's own timeout plus the critical path of its
// dependency. The visited set is per top-level call so shared dependencies
// are charged on every chain that crosses them.
func chainTimeout(name string, active map[string]config.Partner, visited map[string]bool) int {
	p, found := active[name]
	if !found {
		// dangling or inactive dependency, contributes nothing
		return 0
	}
	if visited[name] {
		glog.Warning((&errortypes.DependencyCycle{Partner: name}).Error())
		return 0
	}
	visited[name] = true

	total := p.TimeoutMs
	if total < 0 {
		total = 0
	}
	if p.DependsOn != "" {
		total += chainTimeout(p.DependsOn, active, visited)
	}
	return total
}
