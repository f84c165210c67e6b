package retry

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// skipClock is a manual clock for cooldown tests.
type skipClock struct{ now time.Time }

func (c *skipClock) Now() time.Time          { return c.now }
func (c *skipClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errNoAck = errors.New("skip not acknowledged")

// skipper stands in for the command server's skip endpoint.
type skipper struct {
	fail  bool
	ports []int
}

func (s *skipper) notify(port int) func() error {
	return func() error {
		s.ports = append(s.ports, port)
		if s.fail {
			return errNoAck
		}
		return nil
	}
}

func newSkipGate(clock *skipClock, changes *[]string, suppressed *int) *Gate {
	return NewGate(GateConfig{
		Trip:     3,
		Cooldown: 10 * time.Second,
		Clock:    clock.Now,
		OnChange: func(from, to State) {
			*changes = append(*changes, from.String()+"->"+to.String())
		},
		OnSuppressed: func() { *suppressed++ },
	})
}

func TestGate_HealthyServerSeesEverySkip(t *testing.T) {
	clock := &skipClock{now: time.Unix(0, 0)}
	var changes []string
	var suppressed int
	g := newSkipGate(clock, &changes, &suppressed)
	srv := &skipper{}

	for port := 1; port <= 10; port++ {
		if err := g.Do(srv.notify(port)); err != nil {
			t.Fatalf("port %d: %v", port, err)
		}
	}
	if len(srv.ports) != 10 {
		t.Errorf("server saw %d skips, want 10", len(srv.ports))
	}
	if len(changes) != 0 || suppressed != 0 {
		t.Errorf("changes=%v suppressed=%d, want none", changes, suppressed)
	}
}

func TestGate_DeadServerIsLeftAlone(t *testing.T) {
	clock := &skipClock{now: time.Unix(0, 0)}
	var changes []string
	var suppressed int
	g := newSkipGate(clock, &changes, &suppressed)
	srv := &skipper{fail: true}

	for port := 1; port <= 3; port++ {
		if err := g.Do(srv.notify(port)); !errors.Is(err, errNoAck) {
			t.Fatalf("port %d: got %v, want the server's error", port, err)
		}
	}
	for port := 4; port <= 8; port++ {
		clock.Advance(time.Second)
		err := g.Do(srv.notify(port))
		if !errors.Is(err, ErrOpen) {
			t.Fatalf("port %d: got %v, want ErrOpen", port, err)
		}
	}

	if len(srv.ports) != 3 {
		t.Errorf("server saw ports %v, want only the first 3", srv.ports)
	}
	if suppressed != 5 {
		t.Errorf("suppressed = %d, want 5", suppressed)
	}
	if want := []string{"closed->open"}; fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestGate_OpenErrorSaysWhenToRetry(t *testing.T) {
	clock := &skipClock{now: time.Unix(0, 0)}
	g := NewGate(GateConfig{Trip: 1, Cooldown: 10 * time.Second, Clock: clock.Now})
	g.Do(func() error { return errNoAck }) //nolint:errcheck

	clock.Advance(4 * time.Second)
	err := g.Do(func() error { return nil })
	if err == nil || !strings.Contains(err.Error(), "next attempt in 6s") {
		t.Errorf("got %v, want the remaining cooldown", err)
	}
}

func TestGate_RecoveredServerClosesGate(t *testing.T) {
	clock := &skipClock{now: time.Unix(0, 0)}
	var changes []string
	var suppressed int
	g := newSkipGate(clock, &changes, &suppressed)
	srv := &skipper{fail: true}

	for port := 1; port <= 3; port++ {
		g.Do(srv.notify(port)) //nolint:errcheck
	}
	srv.fail = false
	clock.Advance(11 * time.Second)

	for port := 4; port <= 6; port++ {
		if err := g.Do(srv.notify(port)); err != nil {
			t.Fatalf("port %d: %v", port, err)
		}
	}
	if len(srv.ports) != 6 {
		t.Errorf("server saw %d skips, want 6", len(srv.ports))
	}
	want := []string{"closed->open", "open->trial", "trial->closed"}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestGate_FailedTrialReopens(t *testing.T) {
	clock := &skipClock{now: time.Unix(0, 0)}
	var changes []string
	var suppressed int
	g := newSkipGate(clock, &changes, &suppressed)
	srv := &skipper{fail: true}

	for port := 1; port <= 3; port++ {
		g.Do(srv.notify(port)) //nolint:errcheck
	}
	clock.Advance(11 * time.Second)
	if err := g.Do(srv.notify(4)); !errors.Is(err, errNoAck) {
		t.Fatalf("trial: got %v, want the server's error", err)
	}
	// A single failed trial reopens for a full cooldown.
	clock.Advance(5 * time.Second)
	if err := g.Do(srv.notify(5)); !errors.Is(err, ErrOpen) {
		t.Errorf("after failed trial: got %v, want ErrOpen", err)
	}

	want := []string{"closed->open", "open->trial", "trial->open"}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestGate_AcknowledgedSkipClearsStreak(t *testing.T) {
	clock := &skipClock{now: time.Unix(0, 0)}
	var changes []string
	var suppressed int
	g := newSkipGate(clock, &changes, &suppressed)

	// Two misses, one ack, two misses: never three in a row.
	for _, fail := range []bool{true, true, false, true, true} {
		srv := &skipper{fail: fail}
		g.Do(srv.notify(80)) //nolint:errcheck
	}
	if len(changes) != 0 {
		t.Errorf("gate changed state: %v", changes)
	}
}

func TestSkipGate_Defaults(t *testing.T) {
	g := NewGate(GateConfig{})
	if g.cfg.Trip != 3 || g.cfg.Cooldown != 10*time.Second || g.cfg.Clock == nil {
		t.Errorf("defaults = %+v", g.cfg)
	}
	if Trial.String() != "trial" || State(9).String() != "unknown" {
		t.Error("State.String mismatch")
	}
}
