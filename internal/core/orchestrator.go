package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pathscan/internal/commandserver"
	scanerr "pathscan/internal/errors"
	"pathscan/internal/metrics"
	"pathscan/internal/portset"
	"pathscan/internal/session"
	"pathscan/internal/transport"
	"pathscan/util"
)

// CommandServer is what a scan needs from the command server.
type CommandServer interface {
	Start(ctx context.Context, ports *portset.PortSet, kind transport.Kind) (commandserver.StartReply, error)
	Skip(ctx context.Context, id uint64, echoHost string, port int) error
	Stop(ctx context.Context, id uint64, echoHost string) error
	Update(ctx context.Context, id uint64, echoHost string, report commandserver.Report) error
}

// Prober probes one port.  Failures are *errors.ScanError values.
type Prober interface {
	Echo(port int) error
}

// ProberFactory builds the prober for a session once the command server
// has assigned its id and echo host.
type ProberFactory func(sessionID uint64, echoHost string) Prober

// Observer is told about every session transition.  It runs on the
// orchestrator's goroutine and must not retain or modify the view.
type Observer interface {
	OnStateChanged(v session.View)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(v session.View)

func (f ObserverFunc) OnStateChanged(v session.View) { f(v) }

// DefaultCallTimeout bounds the best-effort skip, stop and update calls.
const DefaultCallTimeout = 10 * time.Second

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Server    CommandServer
	NewProber ProberFactory
	Ports     *portset.PortSet
	Kind      transport.Kind
	Timeout   time.Duration
	// Address is the command server address shown on start failures.
	Address string
	// TickInterval, when positive, emits PORT_TICK while a probe runs.
	TickInterval time.Duration
	// CallTimeout bounds each best-effort command server call.
	CallTimeout time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
	Clock   func() time.Time
}

// Orchestrator runs one scan session: start it on the command server,
// probe every port in order, and report the results back.
type Orchestrator struct {
	cfg       OrchestratorConfig
	log       *util.Logger
	sess      *session.Session
	observers []Observer

	state    atomic.Int32
	stop     atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewOrchestrator returns an orchestrator whose session is in SETUP.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = util.Discard()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{
		cfg: cfg,
		log: cfg.Logger.With("scan." + cfg.Kind.Network()),
		sess: session.New(session.Config{
			CommandServer: cfg.Address,
			Transport:     cfg.Kind.String(),
			Protocol:      "ECHO",
			Ports:         cfg.Ports,
			Timeout:       cfg.Timeout,
			Clock:         cfg.Clock,
		}),
		stopCh: make(chan struct{}),
	}
}

// AddObserver registers o.  Call it before Run.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Stop asks a running scan to end.  The probe in flight finishes first;
// the scan then tells the command server and moves to STOPPED.  Stop
// may be called from any goroutine, any number of times.
func (o *Orchestrator) Stop() {
	o.stop.Store(true)
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// State returns the session state as of the last transition.  Unlike
// Session it may be read from any goroutine while Run is in progress.
func (o *Orchestrator) State() session.State { return session.State(o.state.Load()) }

// Session returns the session.  Only read it once Run has returned.
func (o *Orchestrator) Session() session.View { return o.sess }

// Run executes the scan and returns the final session.  Cancelling ctx
// has the same effect as Stop.
func (o *Orchestrator) Run(ctx context.Context) session.View {
	s := o.sess

	reply, err := o.cfg.Server.Start(ctx, o.cfg.Ports, o.cfg.Kind)
	if err != nil {
		o.log.Verbose("start failed: %v", err)
		s.SetMessage(o.cfg.Address)
		s.OnStartFailure(commandserver.StatusUnavailable)
		o.notify()
		return s
	}
	if !reply.OK() {
		s.OnStartFailure(reply.Status)
		o.notify()
		return s
	}
	s.OnScanStart(reply.SessionID, reply.EchoHost, reply.PortDelay)
	o.notify()

	prober := o.cfg.NewProber(reply.SessionID, reply.EchoHost)
	stopped, fatal := false, false

	for i, port := range o.cfg.Ports.Ports() {
		if o.stopRequested(ctx) {
			stopped = true
			break
		}
		if i > 0 && !o.pause(ctx, s.PortDelay()) {
			stopped = true
			break
		}

		s.OnPortStart(port)
		o.notify()

		began := time.Now()
		code, err := classify(o.probe(prober, port))
		o.cfg.Metrics.ProbeCompleted(code == scanerr.CodeSuccess, time.Since(began))

		switch {
		case err == nil:
		case code.Skippable():
			o.log.Verbose("port %d closed: %v", port, err)
			o.skip(ctx, reply, port)
		default:
			o.log.Error("port %d: %v", port, err)
			fatal = true
		}

		s.OnPortComplete(port, code)
		o.notify()

		if fatal {
			s.OnError(code)
			o.notify()
			break
		}
	}

	if stopped {
		o.stopServer(ctx, reply)
		s.OnScanStop()
		o.notify()
	}

	// Errored sessions report their partial results too, as Failed.
	complete := !stopped && !fatal && s.PortsScanned() == o.cfg.Ports.Size()
	o.update(ctx, reply, complete)

	if complete {
		s.OnScanComplete(commandserver.StatusClientScanCompleted)
		o.notify()
	}
	return s
}

// classify maps a probe outcome to its result code.  Errors that carry
// no registered result code are test failures.
func classify(err error) (scanerr.Code, error) {
	if err == nil {
		return scanerr.CodeSuccess, nil
	}
	if code, ok := scanerr.CodeOf(err); ok && code.Known() {
		return code, err
	}
	return scanerr.CodeTestFailure, err
}

// probe runs one echo.  With a tick interval the echo runs on its own
// goroutine, which alone touches the prober, while this goroutine emits
// ticks.
func (o *Orchestrator) probe(p Prober, port int) error {
	if o.cfg.TickInterval <= 0 {
		return p.Echo(port)
	}

	done := make(chan error, 1)
	go func() { done <- p.Echo(port) }()

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			o.sess.OnPortTick()
			o.notify()
		}
	}
}

func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	return o.stop.Load() || ctx.Err() != nil
}

// pause waits out the inter-port delay.  It returns false when a stop
// arrives first.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !o.stopRequested(ctx)
	case <-ctx.Done():
		return false
	case <-o.stopCh:
		return false
	}
}

// callCtx detaches best-effort calls from ctx so a cancelled scan still
// reaches the command server.
func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
}

func (o *Orchestrator) skip(ctx context.Context, reply commandserver.StartReply, port int) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	if err := o.cfg.Server.Skip(cctx, reply.SessionID, reply.EchoHost, port); err != nil {
		o.log.Debug("skip %d: %v", port, err)
	}
}

func (o *Orchestrator) stopServer(ctx context.Context, reply commandserver.StartReply) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	if err := o.cfg.Server.Stop(cctx, reply.SessionID, reply.EchoHost); err != nil {
		o.log.Warn("stop: %v", err)
	}
}

func (o *Orchestrator) update(ctx context.Context, reply commandserver.StartReply, complete bool) {
	cctx, cancel := o.callCtx(ctx)
	defer cancel()
	report := commandserver.Report{Success: complete, Results: o.sess.Results()}
	if err := o.cfg.Server.Update(cctx, reply.SessionID, reply.EchoHost, report); err != nil {
		o.log.Warn("update: %v", err)
	}
}

func (o *Orchestrator) notify() {
	o.state.Store(int32(o.sess.State()))
	for _, obs := range o.observers {
		obs.OnStateChanged(o.sess)
	}
}
