package circuit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	serrors "github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

var errNodeDown = serrors.New(serrors.ErrorTypeNetwork, "get_block_template", "node unreachable")

// testClock drives a breaker's notion of time.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(logger *log.Logger) (*Breaker, *testClock) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	b := New(Config{
		Name:            "node-rpc",
		MaxFailures:     2,
		SuccessRequired: 2,
		Cooldown:        10 * time.Second,
		FailureWindow:   time.Minute,
	}, logger)
	b.now = clock.now
	b.windowStart = clock.t
	return b, clock
}

func fail(b *Breaker, err error) error {
	return b.Execute(context.Background(), func() error { return err })
}

func succeed(b *Breaker) error {
	return b.Execute(context.Background(), func() error { return nil })
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestBreakerOpensOnOutages(t *testing.T) {
	b, _ := newTestBreaker(log.Nop())

	_ = fail(b, errNodeDown)
	if b.Stats().State != StateClosed {
		t.Fatal("one failure should not open the circuit")
	}
	_ = fail(b, errNodeDown)

	stats := b.Stats()
	if stats.State != StateOpen || stats.Trips != 1 {
		t.Fatalf("stats = %+v, want open after 2 failures", stats)
	}

	called := false
	err := b.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	if called {
		t.Error("open circuit should not run the call")
	}
	if serrors.GetContext(err)["circuit"] != "node-rpc" {
		t.Errorf("open error context = %v", serrors.GetContext(err))
	}
	if b.Stats().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", b.Stats().Rejected)
	}
}

func TestBreakerIgnoresNonOutages(t *testing.T) {
	b, _ := newTestBreaker(log.Nop())

	nonOutages := []error{
		serrors.New(serrors.ErrorTypeValidation, "submit_block", "high-hash"),
		serrors.New(serrors.ErrorTypeContract, "resolve", "unknown network"),
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, err := range nonOutages {
		if got := fail(b, err); !errors.Is(got, err) {
			t.Errorf("Execute() = %v, want %v passed through", got, err)
		}
	}

	if stats := b.Stats(); stats.State != StateClosed || stats.Failures != 0 {
		t.Errorf("stats = %+v, want closed with no failures", stats)
	}
}

func TestBreakerRecovery(t *testing.T) {
	b, clock := newTestBreaker(log.Nop())
	_ = fail(b, errNodeDown)
	_ = fail(b, errNodeDown)

	clock.advance(5 * time.Second)
	if err := succeed(b); err == nil {
		t.Fatal("circuit should still be open during cooldown")
	}

	clock.advance(6 * time.Second)
	if err := succeed(b); err != nil {
		t.Fatalf("first trial call error = %v", err)
	}
	if b.Stats().State != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after one trial call", b.Stats().State)
	}

	if err := succeed(b); err != nil {
		t.Fatalf("second trial call error = %v", err)
	}
	if stats := b.Stats(); stats.State != StateClosed || stats.Failures != 0 {
		t.Errorf("stats = %+v, want closed and reset", stats)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(log.Nop())
	_ = fail(b, errNodeDown)
	_ = fail(b, errNodeDown)

	clock.advance(11 * time.Second)
	_ = fail(b, errNodeDown)

	stats := b.Stats()
	if stats.State != StateOpen || stats.Trips != 2 {
		t.Errorf("stats = %+v, want reopened with 2 trips", stats)
	}
}

func TestBreakerFailureWindow(t *testing.T) {
	b, clock := newTestBreaker(log.Nop())

	_ = fail(b, errNodeDown)
	clock.advance(2 * time.Minute)
	_ = fail(b, errNodeDown)

	if stats := b.Stats(); stats.State != StateClosed || stats.Failures != 1 {
		t.Errorf("stats = %+v, want closed with the stale failure forgotten", stats)
	}
}

func TestBreakerLogsTransitions(t *testing.T) {
	var buf bytes.Buffer
	b, clock := newTestBreaker(log.NewWithWriter(&buf, "test", "", "info", "json"))

	_ = fail(b, errNodeDown)
	_ = fail(b, errNodeDown)
	clock.advance(11 * time.Second)
	_ = succeed(b)
	_ = succeed(b)

	out := buf.String()
	for _, msg := range []string{"circuit opened", "circuit half-open", "circuit closed"} {
		if !strings.Contains(out, msg) {
			t.Errorf("log missing %q: %s", msg, out)
		}
	}
	if !strings.Contains(out, `"circuit":"node-rpc"`) {
		t.Errorf("log records should name the circuit: %s", out)
	}
}

func TestCall(t *testing.T) {
	b, _ := newTestBreaker(log.Nop())

	height, err := Call(context.Background(), b, func() (int64, error) { return 101, nil })
	if err != nil || height != 101 {
		t.Fatalf("Call() = %d, %v", height, err)
	}

	_ = fail(b, errNodeDown)
	_ = fail(b, errNodeDown)

	ctx := log.ContextWithJob(context.Background(), "lif", "lif-5-1")
	hash, err := Call(ctx, b, func() (string, error) { return "unreached", nil })
	if err == nil || hash != "" {
		t.Fatalf("Call() on open circuit = %q, %v", hash, err)
	}
	if serrors.GetContext(err)["job_id"] != "lif-5-1" {
		t.Errorf("open error should carry the job: %v", serrors.GetContext(err))
	}
}
