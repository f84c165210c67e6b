package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"pathscan/internal/session"
)

// Format selects how results are written.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// ResultEntry is one result bucket in structured output.
type ResultEntry struct {
	Code        int    `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Ports       string `json:"ports" yaml:"ports"`
	Count       int    `json:"count" yaml:"count"`
}

// SessionReport is the machine-readable form of one session.
type SessionReport struct {
	Transport     string        `json:"transport" yaml:"transport"`
	Protocol      string        `json:"protocol" yaml:"protocol"`
	State         string        `json:"state" yaml:"state"`
	StatusCode    int           `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Message       string        `json:"message,omitempty" yaml:"message,omitempty"`
	SessionID     uint64        `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	EchoHost      string        `json:"echoHost,omitempty" yaml:"echoHost,omitempty"`
	CommandServer string        `json:"commandServer" yaml:"commandServer"`
	Ports         string        `json:"ports" yaml:"ports"`
	Scanned       int           `json:"scanned" yaml:"scanned"`
	Open          string        `json:"open" yaml:"open"`
	Closed        string        `json:"closed" yaml:"closed"`
	Results       []ResultEntry `json:"results" yaml:"results"`
}

// NewSessionReport captures v.
func NewSessionReport(v session.View) SessionReport {
	r := SessionReport{
		Transport:     v.Transport(),
		Protocol:      v.Protocol(),
		State:         v.State().String(),
		StatusCode:    v.StatusCode(),
		Message:       v.Message(),
		SessionID:     v.SessionID(),
		EchoHost:      v.EchoHost(),
		CommandServer: v.CommandServer(),
		Ports:         v.Ports().String(),
		Scanned:       v.PortsScanned(),
		Open:          v.OpenPorts().String(),
		Closed:        v.ClosedPorts().String(),
		Results:       []ResultEntry{},
	}
	for _, res := range v.Results() {
		r.Results = append(r.Results, ResultEntry{
			Code:        int(res.Code),
			Name:        res.Code.String(),
			Description: res.Code.Description(),
			Ports:       compact(res.Ports),
			Count:       len(res.Ports),
		})
	}
	return r
}

// Write renders the sessions in format.  Text output is the console
// summary.
func Write(w io.Writer, format Format, views ...session.View) error {
	if format == FormatText {
		Summary(w, views...)
		return nil
	}

	reports := make([]SessionReport, 0, len(views))
	for _, v := range views {
		if v != nil {
			reports = append(reports, NewSessionReport(v))
		}
	}
	doc := struct {
		Sessions []SessionReport `json:"sessions" yaml:"sessions"`
	}{reports}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}
