// Package commandserver is the HTTP/JSON client for the command server
// that allocates scan sessions, lends out echo hosts and collects the
// per-port results.
package commandserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	scanerr "pathscan/internal/errors"
	"pathscan/internal/metrics"
	"pathscan/internal/portset"
	"pathscan/internal/retry"
	"pathscan/internal/session"
	"pathscan/internal/transport"
	"pathscan/util"
)

// Reply status values used by the command server.
const (
	StatusUnavailable         = 7 // no reply at all; assigned locally
	StatusIdentified          = 1001
	StatusScanStarted         = 2000
	StatusBindError           = 2017
	StatusSkipAcknowledged    = 5000
	StatusAcknowledged        = 9000
	StatusClientScanCompleted = 12021
	StatusRequestInvalid      = 20400
	StatusAuthFailure         = 20401
)

const maxReplySize = 1 << 20

// Credentials are sent as HTTP basic auth when Username is set.
type Credentials struct {
	Username string
	Password string
}

// Options configures a Client.
type Options struct {
	// Address is host[:port] or a full http(s) URL.
	Address string
	Credentials
	// Tag labels the scan on the server side.
	Tag string
	// Timeout bounds each request (default 15s).
	Timeout time.Duration
	// StartAttempts is how often a start is tried when the server is
	// unreachable (default 3).
	StartAttempts int
	// Dialer reaches the server; nil means direct TCP.
	Dialer    transport.Dialer
	UserAgent string

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// StartReply is the command server's answer to a start request.
type StartReply struct {
	Status    int
	SessionID uint64
	EchoHost  string
	PortDelay time.Duration
}

// OK reports whether the scan may proceed.
func (r StartReply) OK() bool { return r.Status == StatusScanStarted }

// Report is the result summary pushed at the end of a session.
type Report struct {
	// Success is true when every port was probed without a stop or a
	// fatal error.
	Success bool
	Results []session.Result
}

// StatusError is a reply whose status is not the acknowledgement the
// call expects.
type StatusError struct {
	Op     string
	Status int
	Want   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: command server replied status %d, want %d", e.Op, e.Status, e.Want)
}

// Unwrap maps an authentication failure onto errors.ErrAuthFailed.
func (e *StatusError) Unwrap() error {
	if e.Status == StatusAuthFailure {
		return scanerr.ErrAuthFailed
	}
	return nil
}

// Client talks to one command server.
type Client struct {
	opts    Options
	base    *url.URL
	http    *http.Client
	dialer  transport.Dialer
	start   *retry.Backoff
	skip    *retry.Gate
	log     *util.Logger
	metrics *metrics.Collector
}

// New validates the address and returns a ready client.
func New(opts Options) (*Client, error) {
	base, err := baseURL(opts.Address)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pathscan"
	}
	if opts.Logger == nil {
		opts.Logger = util.Discard()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &transport.TCPDialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}
	}
	log := opts.Logger.With("cs")

	c := &Client{
		opts:    opts,
		base:    base,
		dialer:  dialer,
		start:   retry.StartBackoff(opts.StartAttempts),
		log:     log,
		metrics: opts.Metrics,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext:         dialer.Dial,
				MaxIdleConns:        2,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: opts.Timeout,
			},
		},
	}
	c.start.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn("start attempt %d failed: %v (retrying in %v)", attempt, err, wait.Round(time.Millisecond))
	}
	gate := retry.SkipGate()
	gate.OnChange = func(from, to retry.State) {
		log.Verbose("skip notifications %s -> %s", from, to)
		if to == retry.Open {
			opts.Metrics.SkipGateTripped()
		}
	}
	gate.OnSuppressed = opts.Metrics.SkipHeld
	c.skip = retry.NewGate(gate)
	return c, nil
}

// Address returns the server address as configured.
func (c *Client) Address() string { return c.opts.Address }

// Host is the server's host name or IP, without scheme or port.
func (c *Client) Host() string { return c.base.Hostname() }

// Close releases the dialer (and any SSH tunnel behind it).
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return c.dialer.Close()
}

// ── API calls ────────────────────────────────────────────────────────

type startRequest struct {
	PortSpec string `json:"portSpec"`
	Protocol string `json:"protocol"`
	Tag      string `json:"tag,omitempty"`
}

type startResponse struct {
	Status    json.Number     `json:"status"`
	GUID      json.RawMessage `json:"guid"`
	EchoHost  string          `json:"echoHost"`
	PortDelay json.Number     `json:"portDelay"`
}

// Start asks the server to allocate a session for ports over kind.
// Unreachable servers are retried; a reply with a non-success status
// is returned without error for the caller to record.
func (c *Client) Start(ctx context.Context, ports *portset.PortSet, kind transport.Kind) (StartReply, error) {
	req := startRequest{PortSpec: ports.String(), Protocol: kind.Network(), Tag: c.opts.Tag}

	var reply StartReply
	err := c.start.Do(ctx, func(int) error {
		status, body, err := c.do(ctx, "start", http.MethodPost, "/api/scan", req)
		if err != nil {
			if scanerr.IsRetryable(err) {
				return err
			}
			return retry.Permanent(err)
		}
		reply, err = decodeStart(status, body)
		if err != nil {
			c.metrics.RecordError(err.Error())
			return retry.Permanent(scanerr.Wrap("start", c.opts.Address, err))
		}
		return nil
	})
	if err != nil {
		return StartReply{Status: StatusUnavailable}, err
	}
	c.log.Verbose("start replied %d (session %d, echo host %q, delay %v)",
		reply.Status, reply.SessionID, reply.EchoHost, reply.PortDelay)
	return reply, nil
}

// Skip tells the server a port failed so it can stop listening on it.
// Calls are short-circuited after repeated failures.
func (c *Client) Skip(ctx context.Context, id uint64, echoHost string, port int) error {
	return c.skip.Do(func() error {
		status, _, err := c.do(ctx, "skip", http.MethodPatch, scanPath(echoHost, id, strconv.Itoa(port)), nil)
		if err != nil {
			return err
		}
		return expect("skip", status, StatusSkipAcknowledged)
	})
}

// Stop ends the session on the server.
func (c *Client) Stop(ctx context.Context, id uint64, echoHost string) error {
	status, _, err := c.do(ctx, "stop", http.MethodDelete, scanPath(echoHost, id), nil)
	if err != nil {
		return err
	}
	return expect("stop", status, StatusAcknowledged)
}

type clientReport struct {
	GUID       uint64 `json:"guid"`
	ServerID   string `json:"serverId"`
	TestStatus string `json:"testStatus"`
	UID        string `json:"uid"`
}

type clientReportData struct {
	GUID       uint64 `json:"guid"`
	ServerID   string `json:"serverId"`
	PortSpec   string `json:"portSpec"`
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
}

type updateRequest struct {
	ClientReport     clientReport       `json:"clientReport"`
	ClientReportData []clientReportData `json:"clientReportData"`
}

// Update pushes the session's results.
func (c *Client) Update(ctx context.Context, id uint64, echoHost string, report Report) error {
	req := updateRequest{
		ClientReport: clientReport{
			GUID:       id,
			ServerID:   echoHost,
			TestStatus: "Failed",
			UID:        c.opts.Username,
		},
		ClientReportData: make([]clientReportData, 0, len(report.Results)),
	}
	if report.Success {
		req.ClientReport.TestStatus = "Success"
	}
	for _, r := range report.Results {
		ps, err := portset.New(r.Ports)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		status := "Failed"
		if r.Code == scanerr.CodeSuccess {
			status = "Passed"
		}
		req.ClientReportData = append(req.ClientReportData, clientReportData{
			GUID:       id,
			ServerID:   echoHost,
			PortSpec:   ps.String(),
			StatusCode: int(r.Code),
			Status:     status,
		})
	}

	status, _, err := c.do(ctx, "update", http.MethodPut, scanPath(echoHost, id), req)
	if err != nil {
		return err
	}
	return expect("update", status, StatusAcknowledged)
}

// Identify checks the configured credentials.
func (c *Client) Identify(ctx context.Context) error {
	status, _, err := c.do(ctx, "identify", http.MethodHead, "/api/user", nil)
	if err != nil {
		return err
	}
	return expect("identify", status, StatusIdentified)
}

// ── plumbing ─────────────────────────────────────────────────────────

// do performs one request and returns the reply status and body.
func (c *Client) do(ctx context.Context, op, method, path string, body interface{}) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(data)
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", op, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("X-Request-Id", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	c.metrics.ServerCall()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordError(op + ": " + err.Error())
		return 0, nil, scanerr.Wrap(op, c.opts.Address, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		c.metrics.RecordError(op + ": " + err.Error())
		return 0, nil, scanerr.Wrap(op, c.opts.Address, fmt.Errorf("read reply: %w", err))
	}

	status := replyStatus(resp.Header, data)
	c.log.Debug("%s %s -> http %d, status %d [%s]", method, u.Path, resp.StatusCode, status, reqID)
	return status, data, nil
}

// replyStatus reads the status header, falling back to a JSON body
// field.  It returns 0 when neither is present.
func replyStatus(h http.Header, body []byte) int {
	if v := strings.TrimSpace(h.Get("Status")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	var probe struct {
		Status json.Number `json:"status"`
	}
	if len(body) > 0 && json.Unmarshal(body, &probe) == nil {
		if n, err := probe.Status.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

func decodeStart(status int, body []byte) (StartReply, error) {
	var r startResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &r); err != nil {
			return StartReply{}, fmt.Errorf("decode start reply: %w", err)
		}
	}
	reply := StartReply{Status: status}
	if n, err := r.Status.Int64(); err == nil {
		reply.Status = int(n)
	}
	if !reply.OK() {
		return reply, nil
	}

	id, err := parseSessionID(r.GUID)
	if err != nil {
		return StartReply{}, err
	}
	if r.EchoHost == "" {
		return StartReply{}, fmt.Errorf("start reply has no echo host")
	}
	reply.SessionID = id
	reply.EchoHost = r.EchoHost
	if ms, err := r.PortDelay.Int64(); err == nil && ms > 0 {
		reply.PortDelay = time.Duration(ms) * time.Millisecond
	}
	return reply, nil
}

// parseSessionID accepts the guid as a JSON number or a numeric string
// (decimal or 0x-prefixed hex).
func parseSessionID(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("start reply has no session id")
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("session id: %w", err)
		}
	}
	id, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("session id %s is not numeric", raw)
	}
	return id, nil
}

func expect(op string, status, want int) error {
	if status != want {
		return &StatusError{Op: op, Status: status, Want: want}
	}
	return nil
}

func scanPath(echoHost string, id uint64, extra ...string) string {
	parts := append([]string{"/api/scan", echoHost, strconv.FormatUint(id, 10)}, extra...)
	return strings.Join(parts, "/")
}

func baseURL(addr string) (*url.URL, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("command server address is empty")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("command server address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("command server scheme %q not supported", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("command server address %q has no host", addr)
	}
	return u, nil
}
