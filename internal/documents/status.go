package documents

// AllStatuses lists every lifecycle status in display order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCanceled},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled},
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesFor lists the statuses from which to is reachable.
func sourcesFor(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
