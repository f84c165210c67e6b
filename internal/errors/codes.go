package errors

import "strconv"

// Code is a per-port result code.  Values match the command server's
// result code registry and are sent verbatim in reports.
type Code int

const (
	CodeSkipped                              Code = 12020
	CodeSuccess                              Code = 12110
	CodeTestFailure                          Code = 12111
	CodeClientNetworkFailure                 Code = 12112
	CodeHandshakeConnectionInitiationFailure Code = 12150
	CodeHandshakeConnectionTimeOut           Code = 12151
	CodeHandshakeConnectionRefused           Code = 12152
	CodeHandshakeConnectionCompletionFailure Code = 12153
	CodeFailureOnPayloadSend                 Code = 12154
	CodePayloadTimedOutOnRecv                Code = 12155
	CodePayloadRefusedOnRecv                 Code = 12156
	CodePayloadMismatchOnRecv                Code = 12157
	CodePayloadErrorOnRecv                   Code = 12158
)

type codeInfo struct {
	name        string
	description string
	skippable   bool
}

var codes = map[Code]codeInfo{
	CodeSuccess:                              {"SUCCESS", "Open", false},
	CodeSkipped:                              {"SKIPPED", "Skipped", false},
	CodeTestFailure:                          {"TEST_FAILURE", "Scan Failure", false},
	CodeClientNetworkFailure:                 {"CLIENT_NETWORK_FAILURE", "Client Network Failure", false},
	CodeHandshakeConnectionInitiationFailure: {"HANDSHAKE_CONNECTION_INITIATION_FAILURE", "Handshake Connection Initiation Failure", true},
	CodeHandshakeConnectionTimeOut:           {"HANDSHAKE_CONNECTION_TIME_OUT", "Handshake Connection Timeout", true},
	CodeHandshakeConnectionRefused:           {"HANDSHAKE_CONNECTION_REFUSED", "Handshake Connection Refused", true},
	CodeHandshakeConnectionCompletionFailure: {"HANDSHAKE_CONNECTION_COMPLETION_FAILURE", "Handshake Connection Completion Failure", true},
	CodeFailureOnPayloadSend:                 {"FAILURE_ON_PAYLOAD_SEND", "Failure On Payload Send", true},
	CodePayloadTimedOutOnRecv:                {"PAYLOAD_TIMED_OUT_ON_RECV", "Payload Timed Out On Receive", true},
	CodePayloadRefusedOnRecv:                 {"PAYLOAD_REFUSED_ON_RECV", "Payload Refused On Receive", true},
	CodePayloadMismatchOnRecv:                {"PAYLOAD_MISMATCH_ON_RECV", "Payload Mismatch On Receive", true},
	CodePayloadErrorOnRecv:                   {"PAYLOAD_ERROR_ON_RECV", "Payload Error On Receive", true},
}

// String returns the symbolic name, e.g. "PAYLOAD_TIMED_OUT_ON_RECV".
func (c Code) String() string {
	if info, ok := codes[c]; ok {
		return info.name
	}
	return "CODE_" + strconv.Itoa(int(c))
}

// Description returns the human-readable reason used in reports.
func (c Code) Description() string {
	if info, ok := codes[c]; ok {
		return info.description
	}
	return "Unknown Result " + strconv.Itoa(int(c))
}

// Skippable reports whether a probe failing with c marks the port closed
// and lets the session continue.  Every other failure ends the session.
func (c Code) Skippable() bool {
	return codes[c].skippable
}

// Known reports whether c is part of the result code registry.
func (c Code) Known() bool {
	_, ok := codes[c]
	return ok
}
