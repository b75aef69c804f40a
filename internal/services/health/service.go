package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Checker checks one dependency.
type Checker func(ctx context.Context) error

// Report is the readiness payload.
type Report struct {
	OK      bool              `json:"ok"`
	Checks  map[string]string `json:"checks"`
	Details map[string]any    `json:"details,omitempty"`
}

// Describer reports informational state that does not affect readiness.
type Describer func() any

// Service encapsulates health-related checks.
type Service struct {
	checks     map[string]Checker
	describers map[string]Describer
	timeout    time.Duration
}

// NewService constructs a new health service.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		checks:     make(map[string]Checker),
		describers: make(map[string]Describer),
		timeout:    timeout,
	}
}

// Register adds a named dependency check. Nil checkers are ignored.
func (s *Service) Register(name string, check Checker) {
	if check == nil {
		return
	}
	s.checks[name] = check
}

// Describe adds named details to every report, such as work pool occupancy.
func (s *Service) Describe(name string, fn Describer) {
	if fn == nil {
		return
	}
	s.describers[name] = fn
}

// Status runs every check concurrently, each bounded by the service timeout.
func (s *Service) Status(ctx context.Context) Report {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			if err := check(cctx); err != nil {
				results[i] = err.Error()
				return
			}
			results[i] = "ok"
		}(i, s.checks[name])
	}
	wg.Wait()

	report := Report{OK: true, Checks: make(map[string]string, len(names))}
	for i, name := range names {
		report.Checks[name] = results[i]
		if results[i] != "ok" {
			report.OK = false
		}
	}
	if len(s.describers) > 0 {
		report.Details = make(map[string]any, len(s.describers))
		for name, fn := range s.describers {
			report.Details[name] = fn()
		}
	}
	return report
}
