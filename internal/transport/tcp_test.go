package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scanerr "pathscan/internal/errors"
	"pathscan/internal/metrics"
	"pathscan/util"
)

var testPayload = []byte{0, 0, 0, 0, 0, 0, 0x0a, 0xbc}

// tcpServer accepts one connection on loopback and hands it to handle.
func tcpServer(t *testing.T, handle func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func echoOnce(conn net.Conn) {
	buf := make([]byte, len(testPayload))
	if _, err := io.ReadFull(conn, buf); err != nil {
		return
	}
	conn.Write(buf) //nolint:errcheck
}

func newTCP(timeout time.Duration, m *metrics.Collector) Transport {
	return New(TCP, Options{Host: "127.0.0.1", Timeout: timeout, NoDNS: true, Metrics: m})
}

func requireCode(t *testing.T, err error, want scanerr.Code) {
	t.Helper()
	require.Error(t, err)
	code, ok := scanerr.CodeOf(err)
	require.True(t, ok, "not a scan error: %v", err)
	assert.Equal(t, want, code, "err: %v", err)
}

func TestTCP_EchoSuccess(t *testing.T) {
	port := tcpServer(t, echoOnce)
	m := metrics.New()
	tr := newTCP(2*time.Second, m)
	defer tr.Close()

	require.NoError(t, tr.Connect(port))
	require.NoError(t, tr.Send(testPayload))
	got, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, testPayload, got)
	assert.Equal(t, int64(8), m.TotalBytesOut())
	assert.Equal(t, int64(8), m.TotalBytesIn())
}

func TestTCP_Mismatch(t *testing.T) {
	port := tcpServer(t, func(conn net.Conn) {
		buf := make([]byte, len(testPayload))
		io.ReadFull(conn, buf)         //nolint:errcheck
		conn.Write([]byte("12345678")) //nolint:errcheck
	})
	tr := newTCP(2*time.Second, nil)
	defer tr.Close()

	require.NoError(t, tr.Connect(port))
	require.NoError(t, tr.Send(testPayload))
	_, err := tr.Receive()
	requireCode(t, err, scanerr.CodePayloadMismatchOnRecv)
}

func TestTCP_EndOfStream(t *testing.T) {
	port := tcpServer(t, func(conn net.Conn) {
		buf := make([]byte, len(testPayload))
		io.ReadFull(conn, buf) //nolint:errcheck
		conn.Write(buf[:3])    //nolint:errcheck
	})
	tr := newTCP(2*time.Second, nil)
	defer tr.Close()

	require.NoError(t, tr.Connect(port))
	require.NoError(t, tr.Send(testPayload))
	_, err := tr.Receive()
	requireCode(t, err, scanerr.CodePayloadErrorOnRecv)
}

func TestTCP_ReceiveTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	port := tcpServer(t, func(conn net.Conn) {
		buf := make([]byte, len(testPayload))
		io.ReadFull(conn, buf) //nolint:errcheck
		conn.Write(buf[:4])    //nolint:errcheck
		<-release
	})
	tr := newTCP(200*time.Millisecond, nil)
	defer tr.Close()

	require.NoError(t, tr.Connect(port))
	require.NoError(t, tr.Send(testPayload))

	start := time.Now()
	_, err := tr.Receive()
	requireCode(t, err, scanerr.CodePayloadTimedOutOnRecv)
	assert.ErrorIs(t, err, scanerr.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTCP_Refused(t *testing.T) {
	port, err := util.FindFreePort()
	require.NoError(t, err)

	tr := newTCP(time.Second, nil)
	defer tr.Close()
	err = tr.Connect(port)
	requireCode(t, err, scanerr.CodeHandshakeConnectionRefused)
	assert.NotErrorIs(t, err, scanerr.ErrTimeout)
}

func TestTCP_UnresolvableHost(t *testing.T) {
	tr := New(TCP, Options{Host: "echo.invalid", NoDNS: true, Timeout: time.Second})
	defer tr.Close()
	requireCode(t, tr.Connect(80), scanerr.CodeClientNetworkFailure)
}

func TestTCP_SendBeforeConnect(t *testing.T) {
	tr := newTCP(time.Second, nil)
	err := tr.Send(testPayload)
	requireCode(t, err, scanerr.CodeFailureOnPayloadSend)
	assert.ErrorIs(t, err, scanerr.ErrNotConnected)
}

func TestTCP_CloseIdempotent(t *testing.T) {
	port := tcpServer(t, echoOnce)
	tr := newTCP(time.Second, nil)
	require.NoError(t, tr.Connect(port))
	tr.Close()
	tr.Close()

	_, err := tr.Receive()
	requireCode(t, err, scanerr.CodePayloadRefusedOnRecv)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "TCP", TCP.String())
	assert.Equal(t, "udp", UDP.Network())

	k, err := ParseKind(" Udp ")
	require.NoError(t, err)
	assert.Equal(t, UDP, k)

	_, err = ParseKind("sctp")
	assert.Error(t, err)
}
