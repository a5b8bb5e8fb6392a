package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/xhad/danfe/internal/logger"
	"github.com/xhad/danfe/internal/models"
	"github.com/xhad/danfe/internal/types"
	"golang.org/x/time/rate"
)

type Option func(*Coordinator)

// WithSink persists every outcome as soon as it is final.
func WithSink(sink types.Sink) Option {
	return func(c *Coordinator) { c.sinks = append(c.sinks, sink) }
}

// WithLimiter throttles the start of each key.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Coordinator) { c.limiter = limiter }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// Coordinator runs keys one at a time and collects their outcomes.
type Coordinator struct {
	runner  types.Runner
	sinks   []types.Sink
	limiter *rate.Limiter
	log     *slog.Logger
}

func New(runner types.Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		runner: runner,
		log:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes req and always returns one outcome per key, in order.
// Sink failures are logged and otherwise ignored; use RunWithSink when a
// persistence failure must stop the batch.
func (c *Coordinator) Run(ctx context.Context, req models.BatchRequest, reporter types.Reporter) models.BatchResult {
	result, err := c.run(ctx, req, reporter, false)
	if err != nil {
		c.log.Error("sink failed", slog.Any("err", err))
	}
	return result
}

// RunWithSink processes req and halts at the first sink error. The returned
// result still holds one outcome per key; keys after the failure are marked
// as not processed.
func (c *Coordinator) RunWithSink(ctx context.Context, req models.BatchRequest, reporter types.Reporter) (models.BatchResult, error) {
	return c.run(ctx, req, reporter, true)
}

func (c *Coordinator) run(ctx context.Context, req models.BatchRequest, reporter types.Reporter, haltOnSink bool) (models.BatchResult, error) {
	if reporter == nil {
		reporter = discard{}
	}

	result := models.BatchResult{
		ID:       uuid.NewString(),
		Outcomes: make([]models.Outcome, 0, len(req.Keys)),
	}
	total := len(req.Keys)
	opts := req.Options()

	log := c.log.With(slog.String("batch", result.ID))
	log.Info("batch started", slog.Int("keys", total), slog.Bool("secondary", opts.FetchSecondary))
	reporter.Report(fmt.Sprintf("%d keys found, starting download", total))

	var sinkErr error
	for i, key := range req.Keys {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			reporter.Report(fmt.Sprintf("batch cancelled, %d keys not processed", total-i))
			result.Outcomes = append(result.Outcomes, skipped(req.Keys, i, "cancelled before processing")...)
			break
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				result.Cancelled = true
				reporter.Report(fmt.Sprintf("batch cancelled, %d keys not processed", total-i))
				result.Outcomes = append(result.Outcomes, skipped(req.Keys, i, "cancelled before processing")...)
				break
			}
		}

		reporter.Report(fmt.Sprintf("(%d/%d) processing key: %s", i+1, total, key))
		outcome := c.runKey(ctx, key, opts, reporter)
		outcome.Position = i
		result.Outcomes = append(result.Outcomes, outcome)
		if receiver, ok := reporter.(types.OutcomeReporter); ok {
			receiver.Outcome(outcome)
		}

		if err := c.save(ctx, result.ID, outcome); err != nil {
			if !haltOnSink {
				log.Warn("save outcome", slog.String("key", key.String()), slog.Any("err", err))
				continue
			}
			sinkErr = err
			reporter.Report(fmt.Sprintf("failed to save key %s: %v", key, err))
			result.Outcomes = append(result.Outcomes, skipped(req.Keys, i+1, "not processed after a persistence failure")...)
			break
		}
	}

	log.Info("batch finished",
		slog.Int("ready", result.Count(models.StatusReady)),
		slog.Int("timed_out", result.Count(models.StatusTimedOut)),
		slog.Int("registration_failed", result.Count(models.StatusRegistrationFailed)),
		slog.Int("fetch_failed", result.Count(models.StatusFetchFailed)),
		slog.Bool("cancelled", result.Cancelled),
	)
	return result, sinkErr
}

// runKey keeps a panicking runner from escaping the batch loop.
func (c *Coordinator) runKey(ctx context.Context, key models.DocumentKey, opts models.KeyOptions, reporter types.Reporter) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("runner panic", slog.String("key", key.String()), slog.Any("panic", r))
			line := fmt.Sprintf("internal error: %v", r)
			reporter.Report("   " + line)
			outcome = models.Outcome{
				Key:    key,
				Status: models.StatusRegistrationFailed,
				Lines:  []string{line},
			}
		}
	}()
	return c.runner.Run(ctx, key, opts, reporter)
}

func (c *Coordinator) save(ctx context.Context, batchID string, outcome models.Outcome) error {
	// A finished outcome is persisted even if the batch was just cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, sink := range c.sinks {
		if err := sink.Save(ctx, batchID, outcome); err != nil {
			return fmt.Errorf("save %s: %w", outcome.Key, err)
		}
	}
	return nil
}

// skipped builds placeholder outcomes for keys[from:].
func skipped(keys []models.DocumentKey, from int, reason string) []models.Outcome {
	out := make([]models.Outcome, 0, len(keys)-from)
	for i := from; i < len(keys); i++ {
		out = append(out, models.Outcome{
			Key:      keys[i],
			Position: i,
			Status:   models.StatusRegistrationFailed,
			Lines:    []string{reason},
		})
	}
	return out
}

type discard struct{}

func (discard) Report(string) {}
