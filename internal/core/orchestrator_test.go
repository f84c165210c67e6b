package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathscan/internal/commandserver"
	scanerr "pathscan/internal/errors"
	"pathscan/internal/metrics"
	"pathscan/internal/portset"
	"pathscan/internal/session"
	"pathscan/internal/transport"
)

// fakeServer is an in-memory command server.
type fakeServer struct {
	mu       sync.Mutex
	reply    commandserver.StartReply
	startErr error
	calls    []string
	skipped  []int
	report   *commandserver.Report

	identifyErr error
	closed      bool
}

func (f *fakeServer) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeServer) Start(_ context.Context, _ *portset.PortSet, _ transport.Kind) (commandserver.StartReply, error) {
	f.record("start")
	if f.startErr != nil {
		return commandserver.StartReply{Status: commandserver.StatusUnavailable}, f.startErr
	}
	return f.reply, nil
}

func (f *fakeServer) Skip(_ context.Context, _ uint64, _ string, port int) error {
	f.record(fmt.Sprintf("skip %d", port))
	f.mu.Lock()
	f.skipped = append(f.skipped, port)
	f.mu.Unlock()
	return errors.New("skip not acknowledged")
}

func (f *fakeServer) Stop(ctx context.Context, _ uint64, _ string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.record("stop")
	return nil
}

func (f *fakeServer) Update(ctx context.Context, _ uint64, _ string, r commandserver.Report) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.record("update")
	f.mu.Lock()
	f.report = &r
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Identify(context.Context) error {
	f.record("identify")
	return f.identifyErr
}

func (f *fakeServer) Close() error {
	f.closed = true
	return nil
}

func started() commandserver.StartReply {
	return commandserver.StartReply{Status: commandserver.StatusScanStarted, SessionID: 0xabc, EchoHost: "echo.example"}
}

// fakeProber returns a fixed outcome per port; unknown ports succeed.
type fakeProber struct {
	outcomes map[int]error
	delay    time.Duration
	onEcho   func(port int)
	probed   []int
}

func (p *fakeProber) Echo(port int) error {
	p.probed = append(p.probed, port)
	if p.onEcho != nil {
		p.onEcho(port)
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.outcomes[port]
}

// trace records each notification as "STATE" or "STATE port".
type trace struct {
	states  []string
	percent []int
}

func (tr *trace) OnStateChanged(v session.View) {
	s := v.State().String()
	switch v.State() {
	case session.PortStart, session.PortComplete:
		s += fmt.Sprintf(" %d", v.Port())
	}
	tr.states = append(tr.states, s)
	tr.percent = append(tr.percent, v.PercentComplete())
}

func newOrch(t *testing.T, srv *fakeServer, p *fakeProber, spec string) (*Orchestrator, *trace) {
	t.Helper()
	o := NewOrchestrator(OrchestratorConfig{
		Server:    srv,
		NewProber: func(uint64, string) Prober { return p },
		Ports:     portset.MustParse(spec),
		Kind:      transport.TCP,
		Timeout:   time.Second,
		Address:   "cs.example:80",
		Metrics:   metrics.New(),
	})
	tr := &trace{}
	o.AddObserver(tr)
	return o, tr
}

func scanErr(code scanerr.Code) error { return scanerr.NewScanError(code, nil) }

func TestRun_MixedOutcomes(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{outcomes: map[int]error{
		81: scanErr(scanerr.CodeHandshakeConnectionRefused),
	}}
	o, tr := newOrch(t, srv, p, "80-82")

	v := o.Run(context.Background())

	assert.Equal(t, session.Complete, v.State())
	assert.Equal(t, commandserver.StatusClientScanCompleted, v.StatusCode())
	assert.Equal(t, "80,82", v.OpenPorts().String())
	assert.Equal(t, "81", v.ClosedPorts().String())
	assert.Equal(t, []session.Result{
		{Code: scanerr.CodeSuccess, Ports: []int{80, 82}},
		{Code: scanerr.CodeHandshakeConnectionRefused, Ports: []int{81}},
	}, v.Results())

	assert.Equal(t, []string{
		"START",
		"PORT_START 80", "PORT_COMPLETE 80",
		"PORT_START 81", "PORT_COMPLETE 81",
		"PORT_START 82", "PORT_COMPLETE 82",
		"COMPLETE",
	}, tr.states)
	assert.Equal(t, []string{"start", "skip 81", "update"}, srv.calls)
	require.NotNil(t, srv.report)
	assert.True(t, srv.report.Success)
}

func TestRun_AllSkippableCodesContinue(t *testing.T) {
	skippable := []scanerr.Code{
		scanerr.CodeHandshakeConnectionTimeOut,
		scanerr.CodeHandshakeConnectionInitiationFailure,
		scanerr.CodeHandshakeConnectionRefused,
		scanerr.CodeHandshakeConnectionCompletionFailure,
		scanerr.CodePayloadRefusedOnRecv,
		scanerr.CodePayloadTimedOutOnRecv,
		scanerr.CodePayloadErrorOnRecv,
		scanerr.CodePayloadMismatchOnRecv,
		scanerr.CodeFailureOnPayloadSend,
	}
	outcomes := make(map[int]error)
	for i, c := range skippable {
		outcomes[i+1] = scanErr(c)
	}
	srv := &fakeServer{reply: started()}
	o, _ := newOrch(t, srv, &fakeProber{outcomes: outcomes}, "1-9")

	v := o.Run(context.Background())

	assert.Equal(t, session.Complete, v.State())
	assert.Equal(t, 9, v.PortsScanned())
	assert.Equal(t, "1-9", v.ClosedPorts().String())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, srv.skipped)
}

func TestRun_StartUnavailable(t *testing.T) {
	srv := &fakeServer{startErr: errors.New("connection refused")}
	p := &fakeProber{}
	o, tr := newOrch(t, srv, p, "80")

	v := o.Run(context.Background())

	assert.Equal(t, session.StartFailure, v.State())
	assert.Equal(t, commandserver.StatusUnavailable, v.StatusCode())
	assert.Equal(t, "cs.example:80", v.Message())
	assert.Empty(t, p.probed)
	assert.Equal(t, []string{"START_FAILURE"}, tr.states)
	assert.Equal(t, []string{"start"}, srv.calls)
}

func TestRun_StartRefused(t *testing.T) {
	srv := &fakeServer{reply: commandserver.StartReply{Status: commandserver.StatusAuthFailure}}
	p := &fakeProber{}
	o, _ := newOrch(t, srv, p, "80")

	v := o.Run(context.Background())

	assert.Equal(t, session.StartFailure, v.State())
	assert.Equal(t, commandserver.StatusAuthFailure, v.StatusCode())
	assert.Empty(t, p.probed)
	assert.Nil(t, srv.report)
}

func TestRun_FatalErrorEndsSession(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{outcomes: map[int]error{
		2: scanErr(scanerr.CodeClientNetworkFailure),
	}}
	o, tr := newOrch(t, srv, p, "1-3")

	v := o.Run(context.Background())

	assert.Equal(t, session.Error, v.State())
	assert.Equal(t, int(scanerr.CodeClientNetworkFailure), v.StatusCode())
	assert.Equal(t, []int{1, 2}, p.probed)
	assert.Equal(t, 2, v.PortsScanned())
	assert.Equal(t, []string{
		"START",
		"PORT_START 1", "PORT_COMPLETE 1",
		"PORT_START 2", "PORT_COMPLETE 2",
		"ERROR",
	}, tr.states)
	assert.Equal(t, []string{"start", "update"}, srv.calls)
	assert.False(t, srv.report.Success)
}

func TestRun_UntypedErrorIsTestFailure(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{outcomes: map[int]error{1: errors.New("bug")}}
	o, _ := newOrch(t, srv, p, "1-2")

	v := o.Run(context.Background())

	assert.Equal(t, session.Error, v.State())
	assert.Equal(t, int(scanerr.CodeTestFailure), v.StatusCode())
	assert.Equal(t, []session.Result{{Code: scanerr.CodeTestFailure, Ports: []int{1}}}, v.Results())
}

func TestRun_UnregisteredCodeIsTestFailure(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{outcomes: map[int]error{1: scanErr(scanerr.Code(42))}}
	o, _ := newOrch(t, srv, p, "1-2")

	v := o.Run(context.Background())

	assert.Equal(t, session.Error, v.State())
	assert.Equal(t, int(scanerr.CodeTestFailure), v.StatusCode())
	assert.Equal(t, []int{1}, p.probed)
}

func TestRun_StopAfterFirstPort(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{}
	o, tr := newOrch(t, srv, p, "1-3")
	p.onEcho = func(port int) {
		if port == 1 {
			o.Stop()
		}
	}

	v := o.Run(context.Background())

	assert.Equal(t, session.Stopped, v.State())
	assert.Equal(t, []int{1}, p.probed)
	assert.Equal(t, 1, v.PortsScanned())
	assert.Equal(t, []string{"START", "PORT_START 1", "PORT_COMPLETE 1", "STOPPED"}, tr.states)
	assert.Equal(t, []string{"start", "stop", "update"}, srv.calls)
	assert.False(t, srv.report.Success)
}

func TestRun_CancelInterruptsDelay(t *testing.T) {
	reply := started()
	reply.PortDelay = time.Hour
	srv := &fakeServer{reply: reply}
	p := &fakeProber{}
	o, _ := newOrch(t, srv, p, "1-2")

	ctx, cancel := context.WithCancel(context.Background())
	p.onEcho = func(int) { time.AfterFunc(20*time.Millisecond, cancel) }

	done := make(chan session.View, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case v := <-done:
		assert.Equal(t, session.Stopped, v.State())
		assert.Equal(t, []int{1}, p.probed)
		// Best-effort calls still go out after cancellation.
		assert.Equal(t, []string{"start", "stop", "update"}, srv.calls)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the inter-port delay")
	}
}

func TestRun_PortDelay(t *testing.T) {
	reply := started()
	reply.PortDelay = 30 * time.Millisecond
	srv := &fakeServer{reply: reply}
	o, _ := newOrch(t, srv, &fakeProber{}, "1-3")

	start := time.Now()
	v := o.Run(context.Background())

	assert.Equal(t, session.Complete, v.State())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestRun_Ticks(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{delay: 60 * time.Millisecond}
	o, tr := newOrch(t, srv, p, "1")
	o.cfg.TickInterval = 10 * time.Millisecond

	v := o.Run(context.Background())

	assert.Equal(t, session.Complete, v.State())
	ticks := 0
	for _, s := range tr.states {
		if s == "PORT_TICK" {
			ticks++
		}
	}
	assert.GreaterOrEqual(t, ticks, 2)
	assert.Equal(t, "PORT_START 1", tr.states[1])
	assert.Equal(t, "COMPLETE", tr.states[len(tr.states)-1])
}

func TestRun_PercentIsMonotonic(t *testing.T) {
	srv := &fakeServer{reply: started()}
	o, tr := newOrch(t, srv, &fakeProber{outcomes: map[int]error{
		3: scanErr(scanerr.CodePayloadTimedOutOnRecv),
	}}, "1-7")

	o.Run(context.Background())

	for i := 1; i < len(tr.percent); i++ {
		assert.GreaterOrEqual(t, tr.percent[i], tr.percent[i-1])
	}
	assert.Equal(t, 100, tr.percent[len(tr.percent)-1])
}

func TestObserverFunc(t *testing.T) {
	var got session.State
	var obs Observer = ObserverFunc(func(v session.View) { got = v.State() })
	obs.OnStateChanged(session.New(session.Config{}))
	assert.Equal(t, session.Setup, got)
}

func TestState_FollowsTransitions(t *testing.T) {
	srv := &fakeServer{reply: started()}
	p := &fakeProber{}
	o, _ := newOrch(t, srv, p, "1-2")
	assert.Equal(t, session.Setup, o.State())

	var during []session.State
	p.onEcho = func(int) { during = append(during, o.State()) }

	o.Run(context.Background())

	assert.Equal(t, []session.State{session.PortStart, session.PortStart}, during)
	assert.Equal(t, session.Complete, o.State())
}
