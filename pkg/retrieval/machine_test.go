package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/danfe/internal/models"
)

const testKey = models.DocumentKey("12345678901234567890123456789012345678901234")

type fakeGateway struct {
	registerStatus string
	registerErr    error
	pollStatuses   []string
	pollErr        error
	primary        []byte
	primaryErr     error
	secondary      []byte
	secondaryErr   error

	onPoll func()

	mu             sync.Mutex
	polls          int
	primaryCalls   int
	secondaryCalls int
}

func (g *fakeGateway) Register(ctx context.Context, key models.DocumentKey) (models.RemoteStatus, error) {
	if g.registerErr != nil {
		return models.RemoteStatus{}, g.registerErr
	}
	return models.ParseRemoteStatus(g.registerStatus), nil
}

func (g *fakeGateway) PollStatus(ctx context.Context, key models.DocumentKey) (models.RemoteStatus, error) {
	if g.onPoll != nil {
		g.onPoll()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if g.pollErr != nil {
		return models.RemoteStatus{}, g.pollErr
	}
	if len(g.pollStatuses) == 0 {
		return models.ParseRemoteStatus("WAITING"), nil
	}
	status := g.pollStatuses[0]
	if len(g.pollStatuses) > 1 {
		g.pollStatuses = g.pollStatuses[1:]
	}
	return models.ParseRemoteStatus(status), nil
}

func (g *fakeGateway) FetchPrimary(ctx context.Context, key models.DocumentKey) ([]byte, error) {
	g.primaryCalls++
	return g.primary, g.primaryErr
}

func (g *fakeGateway) FetchSecondary(ctx context.Context, key models.DocumentKey) ([]byte, error) {
	g.secondaryCalls++
	return g.secondary, g.secondaryErr
}

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) sleep(d time.Duration) {
	s.waits = append(s.waits, d)
}

type lines []string

func (l *lines) Report(line string) { *l = append(*l, line) }

func newTestMachine(gw *fakeGateway, config Config) (*Machine, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	return New(gw, config, WithSleeper(sleeper.sleep)), sleeper
}

func TestImmediateReadySkipsPolling(t *testing.T) {
	gw := &fakeGateway{registerStatus: "OK", primary: []byte("<xml/>")}
	m, sleeper := newTestMachine(gw, Config{})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, []byte("<xml/>"), outcome.Primary)
	assert.Nil(t, outcome.Secondary)
	assert.Equal(t, 0, gw.polls)
	assert.Equal(t, 0, gw.secondaryCalls)
	assert.Equal(t, 0, outcome.Attempts)
	assert.Equal(t, []time.Duration{1200 * time.Millisecond, 1200 * time.Millisecond}, sleeper.waits)
}

func TestPollsUntilReady(t *testing.T) {
	gw := &fakeGateway{
		registerStatus: "PROCESSING",
		pollStatuses:   []string{"PROCESSING", "PROCESSING", "OK"},
		primary:        []byte("<xml/>"),
		secondary:      []byte("%PDF"),
	}
	m, sleeper := newTestMachine(gw, Config{Backoff: time.Second, Pacing: time.Millisecond})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{FetchSecondary: true}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, 3, gw.polls)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, "OK", outcome.LastStatus)
	assert.Equal(t, []byte("%PDF"), outcome.Secondary)
	assert.Equal(t, []time.Duration{
		time.Millisecond, time.Millisecond,
		time.Second, time.Second, time.Second,
	}, sleeper.waits)
}

func TestNeverReadyTimesOutWithoutFetching(t *testing.T) {
	gw := &fakeGateway{registerStatus: "WAITING"}
	m, _ := newTestMachine(gw, Config{})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{FetchSecondary: true}, nil)

	assert.Equal(t, models.StatusTimedOut, outcome.Status)
	assert.Equal(t, 10, gw.polls)
	assert.Equal(t, 10, outcome.Attempts)
	assert.Equal(t, 0, gw.primaryCalls)
	assert.Equal(t, 0, gw.secondaryCalls)
	assert.Nil(t, outcome.Primary)
	assert.Contains(t, outcome.Lines[len(outcome.Lines)-1], "final status: WAITING")
}

func TestErrorCodesRetryByDefault(t *testing.T) {
	gw := &fakeGateway{registerStatus: "ERRO_JSON", pollStatuses: []string{"ERRO_JSON", "OK"}, primary: []byte("x")}
	m, _ := newTestMachine(gw, Config{})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, 2, gw.polls)
}

func TestFailFastStopsOnErrorCode(t *testing.T) {
	gw := &fakeGateway{registerStatus: "WAITING", pollStatuses: []string{"ERRO_CHAVE"}}
	m, _ := newTestMachine(gw, Config{FailFast: true})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusTimedOut, outcome.Status)
	assert.Equal(t, 1, gw.polls)
	assert.Equal(t, "ERRO_CHAVE", outcome.LastStatus)
}

func TestPollErrorConsumesAttempt(t *testing.T) {
	gw := &fakeGateway{registerStatus: "WAITING", pollErr: errors.New("connection reset")}
	m, _ := newTestMachine(gw, Config{MaxAttempts: 3})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusTimedOut, outcome.Status)
	assert.Equal(t, 3, gw.polls)
	assert.Equal(t, "ERRO", outcome.LastStatus)
}

func TestRegistrationFailureIsTerminal(t *testing.T) {
	gw := &fakeGateway{registerErr: errors.New("dial tcp: refused")}
	m, sleeper := newTestMachine(gw, Config{})
	var reported lines

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{FetchSecondary: true}, &reported)

	assert.Equal(t, models.StatusRegistrationFailed, outcome.Status)
	assert.Equal(t, 0, gw.polls)
	assert.Equal(t, 0, gw.primaryCalls)
	assert.Len(t, sleeper.waits, 1)
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0], "registration failed")
}

func TestSecondaryDisabledNeverCalled(t *testing.T) {
	gw := &fakeGateway{registerStatus: "OK", primary: []byte("<xml/>"), secondary: []byte("%PDF")}
	m, _ := newTestMachine(gw, Config{})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{FetchSecondary: false}, nil)

	assert.Equal(t, 0, gw.secondaryCalls)
	assert.Nil(t, outcome.Secondary)
}

func TestPrimaryFailureStillFetchesSecondary(t *testing.T) {
	gw := &fakeGateway{
		registerStatus: "OK",
		primaryErr:     errors.New("artifact not available"),
		secondary:      []byte("%PDF"),
	}
	m, _ := newTestMachine(gw, Config{})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{FetchSecondary: true}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Nil(t, outcome.Primary)
	assert.Equal(t, []byte("%PDF"), outcome.Secondary)
	assert.Contains(t, outcome.PrimaryErr, "not available")
	assert.Equal(t, 1, gw.secondaryCalls)
}

func TestSecondaryFailureIsNonFatal(t *testing.T) {
	gw := &fakeGateway{registerStatus: "OK", primary: []byte("<xml/>"), secondaryErr: errors.New("boom")}
	m, _ := newTestMachine(gw, Config{})

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{FetchSecondary: true}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, []byte("<xml/>"), outcome.Primary)
	assert.Nil(t, outcome.Secondary)
	assert.Equal(t, "boom", outcome.SecondaryErr)
}

type stubInspector struct{}

func (stubInspector) InspectPrimary(models.DocumentKey, []byte) error {
	return errors.New("key not found in document")
}

func (stubInspector) InspectSecondary(models.DocumentKey, []byte) error { return nil }

func TestInspectorWarningsKeepBytes(t *testing.T) {
	gw := &fakeGateway{registerStatus: "OK", primary: []byte("<xml/>")}
	m := New(gw, Config{}, WithSleeper(func(time.Duration) {}), WithInspector(stubInspector{}))

	outcome := m.Run(context.Background(), testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, []byte("<xml/>"), outcome.Primary)
	assert.Contains(t, outcome.Lines, "warning: key not found in document")
}

func TestCancelledContextStillFinishesKey(t *testing.T) {
	gw := &fakeGateway{registerStatus: "OK", primary: []byte("<xml/>")}
	m, _ := newTestMachine(gw, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := m.Run(ctx, testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, 1, gw.primaryCalls)
	assert.Equal(t, []byte("<xml/>"), outcome.Primary)
}

func TestCancelDuringBackoffKeepsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &fakeGateway{
		registerStatus: "PROCESSING",
		pollStatuses:   []string{"PROCESSING", "PROCESSING", "OK"},
		primary:        []byte("<xml/>"),
		onPoll:         cancel,
	}
	m, sleeper := newTestMachine(gw, Config{Backoff: time.Second, Pacing: time.Millisecond})

	outcome := m.Run(ctx, testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, "OK", outcome.LastStatus)
	assert.Equal(t, []byte("<xml/>"), outcome.Primary)
	assert.Len(t, sleeper.waits, 5)
	for _, line := range outcome.Lines {
		assert.NotContains(t, line, "cancel")
	}
}

func TestCancelDuringBackoffStillTimesOutOnBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &fakeGateway{registerStatus: "WAITING", onPoll: cancel}
	m, _ := newTestMachine(gw, Config{MaxAttempts: 4})

	outcome := m.Run(ctx, testKey, models.KeyOptions{}, nil)

	assert.Equal(t, models.StatusTimedOut, outcome.Status)
	assert.Equal(t, 4, outcome.Attempts)
	assert.Equal(t, 4, gw.polls)
}

func TestValidTransition(t *testing.T) {
	assert.True(t, validTransition(StateRegistering, StateAwaitingReady))
	assert.True(t, validTransition(StateAwaitingReady, StateTimedOut))
	assert.True(t, validTransition(StateReady, StateFetchingArtifacts))
	assert.True(t, validTransition(StateFetchingArtifacts, StateDone))
	assert.False(t, validTransition(StateRegistering, StateReady))
	assert.False(t, validTransition(StateTimedOut, StateFetchingArtifacts))
	assert.False(t, validTransition(StateDone, StateRegistering))
}
