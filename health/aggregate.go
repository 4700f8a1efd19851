package health

import (
	"strings"
	"time"
)

// severity orders states from best to worst
var severity = map[string]int{
	StateHealthy:   0,
	StateDegraded:  1,
	StateUnhealthy: 2,
}

// New returns a status for component in state, stamped now
func New(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate reports the worst state among deps and names the dependencies
// that are not healthy. An empty deps list is healthy.
func Aggregate(component string, deps []Status) Status {
	worst := StateHealthy
	var failing []string
	for _, dep := range deps {
		if severity[dep.Status] > severity[worst] {
			worst = dep.Status
		}
		if !dep.IsHealthy() {
			failing = append(failing, dep.Component+" "+dep.Status)
		}
	}

	message := "all dependencies healthy"
	switch {
	case len(deps) == 0:
		message = "no dependencies"
	case len(failing) > 0:
		message = strings.Join(failing, ", ")
	}

	status := New(component, worst, message)
	status.SubStatuses = append([]Status(nil), deps...)
	return status
}
