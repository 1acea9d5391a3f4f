// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package proxy implements the two connection handlers (/proxy and /call)
// that broker audio and control messages between client endpoints and the AI
// backend (spec.md §4).
package proxy

import "encoding/json"

// Client roles carried in the handshake's client_type field (spec.md §4.1).
const (
	ClientTypeAIBackend = "ai_backend"
	ClientTypeFrontend  = "frontend"
	ClientTypeFreeswitch = "freeswitch"
)

// Control commands carried in upstream text frames (spec.md §6).
const (
	CommandAudioComplete = "audio_complete"
	CommandTouch         = "touch"
)

// handshake is the first text JSON frame every socket must send.
type handshake struct {
	ClientType  string          `json:"client_type"`
	CallID      string          `json:"call_id,omitempty"`
	AudioConfig json.RawMessage `json:"audio_config,omitempty"`
}

// errorEnvelope is sent to reject a handshake or report a dropped frame.
type errorEnvelope struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func newErrorEnvelope(reason string) []byte {
	b, _ := json.Marshal(errorEnvelope{Type: "error", Content: reason})
	return b
}

// commandEnvelope carries an upstream text control command.
type commandEnvelope struct {
	Command string  `json:"command"`
	Amount  float64 `json:"amount,omitempty"`
}

// backendTextEnvelope is a text frame received from the AI backend.
type backendTextEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// clientTextEnvelope forwards backend text content to a client.
type clientTextEnvelope struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Content string `json:"content"`
}

func newClientTextEnvelope(callID, content string) []byte {
	b, _ := json.Marshal(clientTextEnvelope{Type: "text", CallID: callID, Content: content})
	return b
}

// sessionInfoEnvelope is sent to a /proxy frontend client immediately after
// registration.
type sessionInfoEnvelope struct {
	Type    string              `json:"type"`
	Content sessionInfoContent `json:"content"`
}

type sessionInfoContent struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
}

func newSessionInfoEnvelope(sessionID, clientID string) []byte {
	b, _ := json.Marshal(sessionInfoEnvelope{
		Type:    "session_info",
		Content: sessionInfoContent{SessionID: sessionID, ClientID: clientID},
	})
	return b
}

// heartbeatAck replies to a backend heartbeat.
var heartbeatAck = []byte(`{"type":"heartbeat_ack"}`)

// streamAudioEnvelope delivers a re-synthesized telephony container to a
// freeswitch client (spec.md §6).
type streamAudioEnvelope struct {
	Type string           `json:"type"`
	Data streamAudioData `json:"data"`
}

type streamAudioData struct {
	AudioDataType string `json:"audioDataType"`
	SampleRate    uint32 `json:"sampleRate"`
	Channels      uint16 `json:"channels"`
	BitDepth      uint16 `json:"bitDepth"`
	AudioData     string `json:"audioData"`
}
