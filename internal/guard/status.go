// Package guard holds the scheduled supervisors of the account: the risk
// guard (daily loss/profit limit), the regime switch guard (active strategy
// by ADX) and the live safety gate (whether live trading is allowed at all).
//
// Every run ends in exactly one Status, logged as a single structured
// record. Guards act only on state changes and alert only on abnormal
// events or actions taken.
package guard

import (
	"context"
	"log/slog"

	"optguard/internal/metrics"
)

// Outcome is the result class of one guard run.
type Outcome string

const (
	OutcomeSkip     Outcome = "skip"
	OutcomeOK       Outcome = "ok"
	OutcomeUnknown  Outcome = "unknown"
	OutcomeBreach   Outcome = "breach"
	OutcomeHold     Outcome = "hold"
	OutcomeNop      Outcome = "nop"
	OutcomeVote     Outcome = "vote"
	OutcomeReject   Outcome = "reject"
	OutcomeSwitched Outcome = "switched"
	OutcomeError    Outcome = "error"
)

// Status is the result of one guard run.
type Status struct {
	Guard   string
	Outcome Outcome
	Reason  string
	Attrs   []any // extra slog key/value pairs
	Err     error
}

func newStatus(guard string, o Outcome, reason string, attrs ...any) Status {
	return Status{Guard: guard, Outcome: o, Reason: reason, Attrs: attrs}
}

// Event is the record name, e.g. "risk_guard_breach".
func (s Status) Event() string { return s.Guard + "_" + string(s.Outcome) }

// ExitCode is non-zero only for unexpected errors.
func (s Status) ExitCode() int {
	if s.Outcome == OutcomeError {
		return 1
	}
	return 0
}

// Emit writes the single log record for the run and counts it.
func (s Status) Emit(ctx context.Context, log *slog.Logger, m *metrics.Metrics) {
	if log == nil {
		log = slog.Default()
	}
	level := slog.LevelInfo
	switch s.Outcome {
	case OutcomeBreach, OutcomeUnknown, OutcomeReject:
		level = slog.LevelWarn
	case OutcomeError:
		level = slog.LevelError
	}
	args := []any{"event", s.Event(), "guard", s.Guard, "outcome", string(s.Outcome)}
	if s.Reason != "" {
		args = append(args, "reason", s.Reason)
	}
	args = append(args, s.Attrs...)
	if s.Err != nil {
		args = append(args, "error", s.Err)
	}
	log.Log(ctx, level, s.Event(), args...)
	if m != nil {
		m.GuardRunsTotal.WithLabelValues(s.Guard, string(s.Outcome)).Inc()
	}
}
