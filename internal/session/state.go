// Package session holds the state of one scan session: where it is in
// its lifecycle, which port is being probed and what every probed port
// produced.
//
// A Session is mutated only through its transition methods, all called
// from the scan orchestrator's goroutine.  Observers receive it as a
// read-only View.
package session

import (
	"fmt"
	"math"
	"time"

	scanerr "pathscan/internal/errors"
	"pathscan/internal/portset"
)

// State is the lifecycle position of a session.
type State int

const (
	Setup State = iota
	Start
	PortStart
	PortTick
	PortComplete
	Complete
	Stopped
	StartFailure
	Error
)

var stateNames = [...]string{
	Setup:        "SETUP",
	Start:        "START",
	PortStart:    "PORT_START",
	PortTick:     "PORT_TICK",
	PortComplete: "PORT_COMPLETE",
	Complete:     "COMPLETE",
	Stopped:      "STOPPED",
	StartFailure: "START_FAILURE",
	Error:        "ERROR",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	switch s {
	case Complete, Stopped, StartFailure, Error:
		return true
	}
	return false
}

// Result is one bucket of the result map: every port that produced Code,
// in scan order.
type Result struct {
	Code  scanerr.Code `json:"code" yaml:"code"`
	Ports []int        `json:"ports" yaml:"ports"`
}

// View is the read-only face of a Session handed to observers.
type View interface {
	State() State
	SessionID() uint64
	EchoHost() string
	CommandServer() string
	Transport() string
	Protocol() string
	Ports() *portset.PortSet
	Timeout() time.Duration
	Port() int
	LastCode() scanerr.Code
	PortsScanned() int
	StatusCode() int
	Message() string
	Results() []Result
	OpenPorts() *portset.PortSet
	ClosedPorts() *portset.PortSet
	PercentComplete() int
	PortDuration() int64
	PortDelay() time.Duration
	PortDelaySeconds() float64
}

// Config describes the scan a Session tracks.
type Config struct {
	CommandServer string
	Transport     string // "TCP" or "UDP"
	Protocol      string // "ECHO"
	Ports         *portset.PortSet
	Timeout       time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Session is the mutable state of one scan.
type Session struct {
	cfg   Config
	clock func() time.Time

	state      State
	id         uint64
	echoHost   string
	portDelay  time.Duration
	statusCode int
	message    string

	port      int
	lastCode  scanerr.Code
	portStart time.Time
	portEnd   time.Time
	scanned   int

	order   []scanerr.Code
	buckets map[scanerr.Code][]int
}

var _ View = (*Session)(nil)

// New returns a session in the SETUP state.
func New(cfg Config) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		cfg:     cfg,
		clock:   clock,
		state:   Setup,
		buckets: make(map[scanerr.Code][]int),
	}
}

// ── Transitions ──────────────────────────────────────────────────────

// OnScanStart records the allocation made by the command server.
func (s *Session) OnScanStart(id uint64, echoHost string, portDelay time.Duration) {
	s.id = id
	s.echoHost = echoHost
	s.portDelay = portDelay
	s.state = Start
}

// OnStartFailure records why the command server refused the scan.
func (s *Session) OnStartFailure(status int) {
	s.statusCode = status
	s.state = StartFailure
}

// OnPortStart marks the beginning of a probe.
func (s *Session) OnPortStart(port int) {
	s.port = port
	s.portStart = s.clock()
	s.state = PortStart
}

// OnPortTick is a heartbeat while a probe is in flight.
func (s *Session) OnPortTick() {
	s.state = PortTick
}

// OnPortComplete records the outcome of a probe.  A port lands in
// exactly one bucket.
func (s *Session) OnPortComplete(port int, code scanerr.Code) {
	s.port = port
	s.lastCode = code
	s.portEnd = s.clock()
	s.scanned++
	if _, ok := s.buckets[code]; !ok {
		s.order = append(s.order, code)
	}
	s.buckets[code] = append(s.buckets[code], port)
	s.state = PortComplete
}

// OnScanComplete marks a scan in which every port was probed.
func (s *Session) OnScanComplete(status int) {
	s.statusCode = status
	s.state = Complete
}

// OnScanStop acknowledges an external stop request.
func (s *Session) OnScanStop() {
	s.state = Stopped
}

// OnError ends the session on a failure that is not port specific.
func (s *Session) OnError(code scanerr.Code) {
	s.statusCode = int(code)
	s.state = Error
}

// SetMessage attaches detail for the console, e.g. why a start failed.
func (s *Session) SetMessage(msg string) { s.message = msg }

// ── Queries ──────────────────────────────────────────────────────────

func (s *Session) State() State              { return s.state }
func (s *Session) SessionID() uint64         { return s.id }
func (s *Session) EchoHost() string          { return s.echoHost }
func (s *Session) CommandServer() string     { return s.cfg.CommandServer }
func (s *Session) Transport() string         { return s.cfg.Transport }
func (s *Session) Protocol() string          { return s.cfg.Protocol }
func (s *Session) Ports() *portset.PortSet   { return s.cfg.Ports }
func (s *Session) Timeout() time.Duration    { return s.cfg.Timeout }
func (s *Session) Port() int                 { return s.port }
func (s *Session) LastCode() scanerr.Code    { return s.lastCode }
func (s *Session) PortsScanned() int         { return s.scanned }
func (s *Session) StatusCode() int           { return s.statusCode }
func (s *Session) Message() string           { return s.message }
func (s *Session) PortDelay() time.Duration  { return s.portDelay }
func (s *Session) PortDelaySeconds() float64 { return s.portDelay.Seconds() }

// Results returns the result buckets in the order their codes were
// first seen.  The returned slices are copies.
func (s *Session) Results() []Result {
	out := make([]Result, 0, len(s.order))
	for _, code := range s.order {
		out = append(out, Result{Code: code, Ports: append([]int(nil), s.buckets[code]...)})
	}
	return out
}

// OpenPorts returns the ports that echoed successfully.
func (s *Session) OpenPorts() *portset.PortSet {
	return mustSet(s.buckets[scanerr.CodeSuccess])
}

// ClosedPorts returns every probed port that did not echo.
func (s *Session) ClosedPorts() *portset.PortSet {
	var closed []int
	for code, ports := range s.buckets {
		if code != scanerr.CodeSuccess {
			closed = append(closed, ports...)
		}
	}
	return mustSet(closed)
}

// PercentComplete is ports scanned over ports requested, truncated.
// An empty port set reports 0.
func (s *Session) PercentComplete() int {
	total := s.cfg.Ports.Size()
	if total == 0 {
		return 0
	}
	return s.scanned * 100 / total
}

// PortDuration is the last probe's duration in whole milliseconds,
// rounded to nearest.
func (s *Session) PortDuration() int64 {
	d := s.portEnd.Sub(s.portStart)
	if d < 0 {
		return 0
	}
	return int64(math.Round(float64(d) / float64(time.Millisecond)))
}

// Description returns the reason text for a result code.
func Description(code scanerr.Code) string { return code.Description() }

func (s *Session) String() string {
	return fmt.Sprintf("session %#x %s/%s [%s] %d/%d (%d%%)",
		s.id, s.cfg.Transport, s.cfg.Protocol, s.state,
		s.scanned, s.cfg.Ports.Size(), s.PercentComplete())
}

func mustSet(ports []int) *portset.PortSet {
	ps, err := portset.New(ports)
	if err != nil {
		// Ports only reach a bucket after passing portset validation.
		panic(err)
	}
	return ps
}
