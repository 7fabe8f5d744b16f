package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"optguard/internal/store/redis"
)

// Restarter tells the execution process to pick up a new strategy.
type Restarter interface {
	Restart(ctx context.Context, strategy, reason string) error
}

// ShellRestarter runs a shell command, typically the supervisor's restart
// script, with STRATEGY set in its environment.
type ShellRestarter struct {
	Command string
	Timeout time.Duration
}

func (s ShellRestarter) Restart(ctx context.Context, strategy, reason string) error {
	if strings.TrimSpace(s.Command) == "" {
		return nil
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-lc", s.Command)
	cmd.Env = append(os.Environ(), "STRATEGY="+strategy, "RESTART_REASON="+reason)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart command: %w: %s", err, tail(string(out), 300))
	}
	return nil
}

// PublishRestarter publishes a restart signal on Redis.
type PublishRestarter struct {
	Publisher *redis.Publisher
	RunID     string
	Now       func() time.Time
}

func (p PublishRestarter) Restart(ctx context.Context, strategy, reason string) error {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}
	_, err := p.Publisher.Restart(ctx, strategy, reason, p.RunID, now)
	return err
}

// Restarters signals through every restarter and joins the failures.
type Restarters []Restarter

func (rs Restarters) Restart(ctx context.Context, strategy, reason string) error {
	var errs []error
	for _, r := range rs {
		if err := r.Restart(ctx, strategy, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
