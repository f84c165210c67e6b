package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned (wrapped) by [Gate.Do] when the call was held back
// because the receiver kept failing.
var ErrOpen = errors.New("circuit open")

// State is where a [Gate] stands.
type State int

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the cooldown has passed.
	Open
	// Trial lets calls through after a cooldown; the next outcome
	// decides between Closed and Open.
	Trial
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Trial:
		return "trial"
	default:
		return "unknown"
	}
}

// GateConfig configures a [Gate].  Zero fields take the [SkipGate]
// values.
type GateConfig struct {
	// Trip is the number of consecutive failures that opens the gate.
	Trip int
	// Cooldown is how long the gate stays open before a trial call.
	Cooldown time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnChange runs on every transition, under the gate's lock.
	OnChange func(from, to State)
	// OnSuppressed runs for every call rejected while open.
	OnSuppressed func()
}

// SkipGate is the policy for per-port skip notifications: three misses
// in a row and the scanner leaves the command server alone for 10s.
func SkipGate() GateConfig {
	return GateConfig{Trip: 3, Cooldown: 10 * time.Second}
}

// Gate holds back a stream of best-effort calls once the receiver has
// failed Trip times in a row.  A scan keeps going either way; the gate
// only saves it from waiting out one dead request per closed port.
type Gate struct {
	cfg GateConfig

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
}

// NewGate returns a closed gate.
func NewGate(cfg GateConfig) *Gate {
	def := SkipGate()
	if cfg.Trip <= 0 {
		cfg.Trip = def.Trip
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Gate{cfg: cfg}
}

// Do runs fn unless the gate is open.
func (g *Gate) Do(fn func() error) error {
	if err := g.admit(); err != nil {
		if g.cfg.OnSuppressed != nil {
			g.cfg.OnSuppressed()
		}
		return err
	}
	err := fn()
	g.record(err)
	return err
}

func (g *Gate) admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Open {
		return nil
	}
	wait := g.cfg.Cooldown - g.cfg.Clock().Sub(g.openedAt)
	if wait > 0 {
		return fmt.Errorf("%w after %d failed calls, next attempt in %v",
			ErrOpen, g.streak, wait.Truncate(time.Millisecond))
	}
	g.set(Trial)
	return nil
}

func (g *Gate) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		g.streak = 0
		g.set(Closed)
		return
	}
	g.streak++
	if g.state == Trial || g.streak >= g.cfg.Trip {
		g.openedAt = g.cfg.Clock()
		g.set(Open)
	}
}

func (g *Gate) set(to State) {
	from := g.state
	if from == to {
		return
	}
	g.state = to
	if g.cfg.OnChange != nil {
		g.cfg.OnChange(from, to)
	}
}
