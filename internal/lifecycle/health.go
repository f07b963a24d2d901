package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Proton-105/user-sync/internal/health"
)

// ErrPollLoopDown is returned by Liveness once the poll loop has exited.
var ErrPollLoopDown = errors.New("poll loop is not running")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes backs /healthz and /readyz.
type Probes struct {
	checker *health.Checker
	alive   func() bool
	log     *slog.Logger
}

var _ HealthChecker = (*Probes)(nil)

// NewProbes creates probes over checker. alive reports whether the poll loop is
// still running; nil means always alive.
func NewProbes(checker *health.Checker, alive func() bool, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, alive: alive, log: log}
}

// Liveness fails only when the poll loop has stopped.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")
	if p.alive != nil && !p.alive() {
		return ErrPollLoopDown
	}
	return nil
}

// Readiness fails when any registered dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	_, err := p.Report(ctx)
	return err
}

// Report runs the dependency checks and returns the report with a summary error.
func (p *Probes) Report(ctx context.Context) (health.Report, error) {
	if p.checker == nil {
		return health.Report{Status: health.StatusOK, Components: map[string]string{}}, nil
	}

	report := p.checker.Check(ctx)
	if !report.Healthy() {
		return report, fmt.Errorf("unhealthy components: %s", strings.Join(report.Failing(), ", "))
	}
	return report, nil
}
