package models

import (
	"strings"
	"time"
)

// DocumentKey is the 44-digit access key of one fiscal document.
type DocumentKey string

func (k DocumentKey) String() string { return string(k) }

type Status string

const (
	StatusReady              Status = "Ready"
	StatusTimedOut           Status = "TimedOut"
	StatusRegistrationFailed Status = "RegistrationFailed"
	StatusFetchFailed        Status = "FetchFailed"
)

type ArtifactKind string

const (
	ArtifactPrimary   ArtifactKind = "primary"
	ArtifactSecondary ArtifactKind = "secondary"
)

// Extension is the file extension the persistence layer uses for the kind.
func (k ArtifactKind) Extension() string {
	switch k {
	case ArtifactPrimary:
		return ".xml"
	case ArtifactSecondary:
		return ".pdf"
	default:
		return ""
	}
}

type Outcome struct {
	Key          DocumentKey
	Position     int // index of the key in its batch
	Status       Status
	Primary      []byte
	Secondary    []byte
	Lines        []string
	Attempts     int
	LastStatus   string
	PrimaryErr   string
	SecondaryErr string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (o Outcome) HasPrimary() bool   { return o.Primary != nil }
func (o Outcome) HasSecondary() bool { return o.Secondary != nil }

type BatchRequest struct {
	Keys           []DocumentKey
	FetchSecondary bool
	Pacing         time.Duration
}

// Options returns the per-key flags carried by the request.
func (r BatchRequest) Options() KeyOptions {
	return KeyOptions{FetchSecondary: r.FetchSecondary, Pacing: r.Pacing}
}

// KeyOptions are the behavior flags applied to every key of a batch.
type KeyOptions struct {
	FetchSecondary bool
	Pacing         time.Duration
}

type BatchResult struct {
	ID        string
	Outcomes  []Outcome
	Cancelled bool
}

// Count returns the number of outcomes that ended in status.
func (r BatchResult) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ArtifactCount returns the number of artifacts obtained across the batch.
func (r BatchResult) ArtifactCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.HasPrimary() {
			n++
		}
		if o.HasSecondary() {
			n++
		}
	}
	return n
}

type RemoteStatusKind int

const (
	RemoteNotReady RemoteStatusKind = iota
	RemoteReady
	RemoteErrorCode
)

// ReadySentinel is the status token the registry uses once artifacts exist.
const ReadySentinel = "OK"

// RemoteStatus is a classified status token reported by the registry.
type RemoteStatus struct {
	Kind RemoteStatusKind
	Raw  string
}

func (s RemoteStatus) Ready() bool   { return s.Kind == RemoteReady }
func (s RemoteStatus) IsError() bool { return s.Kind == RemoteErrorCode }
func (s RemoteStatus) String() string {
	return s.Raw
}

// ParseRemoteStatus classifies a raw token. Unknown tokens are treated as
// not ready so new remote states keep the poll loop going.
func ParseRemoteStatus(raw string) RemoteStatus {
	token := strings.TrimSpace(raw)
	switch {
	case token == ReadySentinel:
		return RemoteStatus{Kind: RemoteReady, Raw: token}
	case token == "" || token == "?":
		return RemoteStatus{Kind: RemoteErrorCode, Raw: "?"}
	case strings.HasPrefix(strings.ToUpper(token), "ERRO"):
		return RemoteStatus{Kind: RemoteErrorCode, Raw: token}
	default:
		return RemoteStatus{Kind: RemoteNotReady, Raw: token}
	}
}
