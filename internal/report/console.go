// Package report renders scan sessions for people and for machines:
// live progress on the console, a closing summary, and structured
// JSON or YAML output.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"pathscan/internal/commandserver"
	scanerr "pathscan/internal/errors"
	"pathscan/internal/portset"
	"pathscan/internal/session"
)

// Console prints scan progress as it happens.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes progress to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// OnStateChanged implements core.Observer.
func (c *Console) OnStateChanged(v session.View) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch v.State() {
	case session.Start:
		fmt.Fprintf(c.w, "Performing %s scan on %s ports %s via %s with %dms timeout\n",
			v.Protocol(), v.Transport(), v.Ports(), v.CommandServer(), v.Timeout().Milliseconds())
	case session.PortStart:
		fmt.Fprintf(c.w, "%s %d", v.Transport(), v.Port())
	case session.PortTick:
		fmt.Fprint(c.w, ".")
	case session.PortComplete:
		if v.LastCode() == scanerr.CodeSuccess {
			fmt.Fprintf(c.w, " open in %dms %d%%\n", v.PortDuration(), v.PercentComplete())
		} else {
			fmt.Fprintf(c.w, " closed after %dms - %s\n", v.PortDuration(), v.LastCode().Description())
		}
	case session.StartFailure:
		fmt.Fprintln(c.w, StartFailureText(v))
	case session.Error:
		code := scanerr.Code(v.StatusCode())
		fmt.Fprintf(c.w, "%s scan aborted: %s\n", v.Transport(), code.Description())
	case session.Stopped:
		fmt.Fprintf(c.w, "%s scan stopped after %d of %d ports\n", v.Transport(), v.PortsScanned(), v.Ports().Size())
	}
}

// StartFailureText explains why the command server did not start a scan.
func StartFailureText(v session.View) string {
	switch v.StatusCode() {
	case commandserver.StatusAuthFailure:
		return "Authentication failure"
	case commandserver.StatusRequestInvalid:
		return "Incompatible command server (request invalid)"
	case commandserver.StatusBindError:
		return fmt.Sprintf("Server unable to bind on ports %s", v.Ports())
	case commandserver.StatusUnavailable:
		return fmt.Sprintf("Unable to reach command server %s", v.Message())
	default:
		return fmt.Sprintf("Unable to start scan (code %d)", v.StatusCode())
	}
}

// Summary prints the closing report for every completed session.
func Summary(w io.Writer, views ...session.View) {
	var done []session.View
	for _, v := range views {
		if v != nil && v.State() == session.Complete {
			done = append(done, v)
		}
	}
	if len(done) == 0 {
		return
	}

	var head, totals, scanned, detail strings.Builder
	for _, v := range done {
		fmt.Fprintf(&head, "Completed %s scan of %s %s\n", v.Protocol(), v.Transport(), v.Ports())

		open, closed := v.OpenPorts(), v.ClosedPorts()
		if open.Size() > 0 {
			fmt.Fprintf(&totals, "%s %s %s %s open\n", v.Transport(), plural("Port", open.Size()), open, isAre(open.Size()))
		}
		if closed.Size() > 0 {
			fmt.Fprintf(&totals, "%s %s %s %s closed\n", v.Transport(), plural("Port", closed.Size()), closed, isAre(closed.Size()))
		}

		fmt.Fprintf(&scanned, "\nScanned %d %s %s", v.PortsScanned(), v.Transport(), plural("port", v.PortsScanned()))
		if open.Size() > 0 {
			fmt.Fprintf(&scanned, ", %d %s open", open.Size(), isAre(open.Size()))
		}
		if closed.Size() > 0 {
			fmt.Fprintf(&scanned, ", %d %s closed", closed.Size(), isAre(closed.Size()))
		}

		for _, r := range v.Results() {
			if r.Code == scanerr.CodeSuccess {
				continue
			}
			ps, _ := portset.New(r.Ports)
			fmt.Fprintf(&detail, "%s %s %s closed - %s\n",
				plural("Port", ps.Size()), ps, isAre(ps.Size()), r.Code.Description())
		}
	}

	fmt.Fprintf(w, "\n%s%s%s\n\n%s", head.String(), totals.String(), scanned.String(), detail.String())
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func isAre(n int) string {
	if n == 1 {
		return "is"
	}
	return "are"
}

func compact(ports []int) string {
	ps, err := portset.New(ports)
	if err != nil {
		return ""
	}
	return ps.String()
}
