package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhad/danfe/internal/logger"
	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/internal/types"
)

type Config struct {
	MaxAttempts int
	Backoff     time.Duration // wait before each status poll
	Pacing      time.Duration // wait before and after registration
	// FailFast stops polling as soon as the registry reports an error code
	// instead of spending the remaining attempts.
	FailFast bool
}

// Sleeper blocks for d.
type Sleeper func(d time.Duration)

type Option func(*Machine)

func WithSleeper(sleep Sleeper) Option {
	return func(m *Machine) { m.sleep = sleep }
}

func WithInspector(inspector types.Inspector) Option {
	return func(m *Machine) { m.inspector = inspector }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) { m.log = log }
}

// Machine drives one key through register, poll and fetch.
type Machine struct {
	gateway   types.Gateway
	config    Config
	sleep     Sleeper
	inspector types.Inspector
	log       *slog.Logger
}

func New(gateway types.Gateway, config Config, opts ...Option) *Machine {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 10
	}
	if config.Backoff == 0 {
		config.Backoff = 3 * time.Second
	}
	if config.Pacing == 0 {
		config.Pacing = 1200 * time.Millisecond
	}

	m := &Machine{
		gateway: gateway,
		config:  config,
		sleep:   time.Sleep,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// run holds the mutable state of one key while the machine works on it.
type run struct {
	key      models.DocumentKey
	state    State
	outcome  models.Outcome
	opts     models.KeyOptions
	reporter types.Reporter
	log      *slog.Logger
}

func (r *run) moveTo(to State) {
	if !validTransition(r.state, to) {
		panic(fmt.Sprintf("retrieval: invalid transition %s -> %s", r.state, to))
	}
	r.log.Debug("transition", slog.String("from", string(r.state)), slog.String("to", string(to)))
	r.state = to
}

func (r *run) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.outcome.Lines = append(r.outcome.Lines, line)
	if r.reporter != nil {
		r.reporter.Report("   " + line)
	}
}

// Run processes key to a terminal state. It never returns an error: every
// failure is captured in the outcome and its progress lines. Cancelling ctx
// does not interrupt the key; the batch stops between keys.
func (m *Machine) Run(ctx context.Context, key models.DocumentKey, opts models.KeyOptions, reporter types.Reporter) models.Outcome {
	ctx = context.WithoutCancel(ctx)
	if opts.Pacing <= 0 {
		opts.Pacing = m.config.Pacing
	}
	r := &run{
		key:      key,
		opts:     opts,
		state:    StateRegistering,
		reporter: reporter,
		log:      m.log.With(slog.String("key", key.String())),
		outcome: models.Outcome{
			Key:       key,
			StartedAt: time.Now().UTC(),
		},
	}

	current, ok := m.register(ctx, r)
	if ok {
		r.moveTo(StateAwaitingReady)
		if m.awaitReady(ctx, r, current) {
			r.moveTo(StateReady)
			m.fetchArtifacts(ctx, r)
		}
	}

	r.outcome.Status = r.state.Status()
	r.outcome.FinishedAt = time.Now().UTC()
	r.log.Info("key finished",
		slog.String("status", string(r.outcome.Status)),
		slog.Int("attempts", r.outcome.Attempts),
		slog.Bool("primary", r.outcome.HasPrimary()),
		slog.Bool("secondary", r.outcome.HasSecondary()),
	)
	return r.outcome
}

func (m *Machine) register(ctx context.Context, r *run) (models.RemoteStatus, bool) {
	m.sleep(r.opts.Pacing)

	status, err := m.gateway.Register(ctx, r.key)
	if err != nil {
		r.logf("registration failed: %v", err)
		r.moveTo(StateRegistrationFailed)
		return models.RemoteStatus{}, false
	}
	r.outcome.LastStatus = status.Raw
	r.logf("registered: %s", status.Raw)

	m.sleep(r.opts.Pacing)
	return status, true
}

func (m *Machine) awaitReady(ctx context.Context, r *run, current models.RemoteStatus) bool {
	for !current.Ready() {
		if m.config.FailFast && current.IsError() {
			r.logf("remote reported error %s, giving up", current.Raw)
			r.moveTo(StateTimedOut)
			return false
		}
		if r.outcome.Attempts >= m.config.MaxAttempts {
			r.logf("not available yet (final status: %s)", current.Raw)
			r.moveTo(StateTimedOut)
			return false
		}

		r.outcome.Attempts++
		r.logf("waiting (status=%s)... attempt %d", current.Raw, r.outcome.Attempts)
		m.sleep(m.config.Backoff)

		status, err := m.gateway.PollStatus(ctx, r.key)
		if err != nil {
			r.logf("status check failed: %v", err)
			status = models.RemoteStatus{Kind: models.RemoteErrorCode, Raw: "ERRO"}
		}
		current = status
		r.outcome.LastStatus = current.Raw
	}
	return true
}

func (m *Machine) fetchArtifacts(ctx context.Context, r *run) {
	r.moveTo(StateFetchingArtifacts)

	primary, err := m.gateway.FetchPrimary(ctx, r.key)
	if err != nil {
		r.outcome.PrimaryErr = err.Error()
		r.logf("failed to fetch primary artifact: %v", err)
	} else {
		r.outcome.Primary = primary
		r.logf("primary artifact fetched (%d bytes)", len(primary))
		if m.inspector != nil {
			if err := m.inspector.InspectPrimary(r.key, primary); err != nil {
				r.logf("warning: %v", err)
			}
		}
	}

	if r.opts.FetchSecondary {
		secondary, err := m.gateway.FetchSecondary(ctx, r.key)
		if err != nil {
			r.outcome.SecondaryErr = err.Error()
			r.logf("failed to fetch secondary artifact: %v", err)
		} else {
			r.outcome.Secondary = secondary
			r.logf("secondary artifact fetched (%d bytes)", len(secondary))
			if m.inspector != nil {
				if err := m.inspector.InspectSecondary(r.key, secondary); err != nil {
					r.logf("warning: %v", err)
				}
			}
		}
	}

	r.moveTo(StateDone)
}
