package types

import (
	"context"

	"github.com/xhad/danfe/internal/models"
)

// Core interfaces
type Gateway interface {
	Register(ctx context.Context, key models.DocumentKey) (models.RemoteStatus, error)
	PollStatus(ctx context.Context, key models.DocumentKey) (models.RemoteStatus, error)
	FetchPrimary(ctx context.Context, key models.DocumentKey) ([]byte, error)
	FetchSecondary(ctx context.Context, key models.DocumentKey) ([]byte, error)
}

// Reporter receives progress lines. Implementations must not block.
type Reporter interface {
	Report(line string)
}

// OutcomeReporter is implemented by reporters that also want finished outcomes.
type OutcomeReporter interface {
	Reporter
	Outcome(outcome models.Outcome)
}

type Runner interface {
	Run(ctx context.Context, key models.DocumentKey, opts models.KeyOptions, reporter Reporter) models.Outcome
}

// Inspector sanity-checks fetched artifact bytes. A non-nil error is a
// warning only.
type Inspector interface {
	InspectPrimary(key models.DocumentKey, data []byte) error
	InspectSecondary(key models.DocumentKey, data []byte) error
}

// Sink persists a finished outcome. An error halts the batch.
type Sink interface {
	Save(ctx context.Context, batchID string, outcome models.Outcome) error
}
