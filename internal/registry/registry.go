// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package registry tracks the live client connections and the buffers/audio
// configuration associated with each session or call (spec.md §4.2).
package registry

import (
	"sync"
	"time"

	"github.com/MetaPowerMatrix/streamproxy/internal/audio"
	"github.com/MetaPowerMatrix/streamproxy/internal/sessionid"
)

// Conn is the minimal socket surface the registry needs for liveness checks.
// gorilla's *websocket.Conn satisfies it directly.
type Conn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Interactive tracks the /proxy endpoint's clients and sessions: one frontend
// client maps to one session id, and vice versa, with a raw-bytes inbound
// buffer per session awaiting the upstream chunk threshold.
type Interactive struct {
	mu sync.Mutex

	clientByID      map[string]Conn
	sessionToClient map[sessionid.ID]string
	clientToSession map[string]sessionid.ID
	inboundBuffer   map[sessionid.ID][]byte
}

// NewInteractive constructs an empty interactive registry.
func NewInteractive() *Interactive {
	return &Interactive{
		clientByID:      make(map[string]Conn),
		sessionToClient: make(map[sessionid.ID]string),
		clientToSession: make(map[string]sessionid.ID),
		inboundBuffer:   make(map[sessionid.ID][]byte),
	}
}

// Register inserts a newly connected frontend client under a fresh session,
// returning the minted session id (spec.md §4.1 handshake).
func (r *Interactive) Register(clientID string, conn Conn) sessionid.ID {
	sid := sessionid.New()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientByID[clientID] = conn
	r.sessionToClient[sid] = clientID
	r.clientToSession[clientID] = sid
	r.inboundBuffer[sid] = nil
	return sid
}

// Unregister removes all state for clientID, returning whether anything was
// found to remove.
func (r *Interactive) Unregister(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.clientByID[clientID]
	delete(r.clientByID, clientID)

	if sid, ok := r.clientToSession[clientID]; ok {
		delete(r.sessionToClient, sid)
		delete(r.inboundBuffer, sid)
		delete(r.clientToSession, clientID)
		found = true
	}
	return found
}

// ClientForSession resolves the frontend client connection registered for
// sid, used to route an AI backend reply to its originating browser tab.
func (r *Interactive) ClientForSession(sid sessionid.ID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clientID, ok := r.sessionToClient[sid]
	if !ok {
		return nil, false
	}
	conn, ok := r.clientByID[clientID]
	return conn, ok
}

// AppendInbound buffers raw audio bytes for sid and reports the buffer's
// length after appending, so the caller can compare against its threshold.
func (r *Interactive) AppendInbound(sid sessionid.ID, chunk []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboundBuffer[sid] = append(r.inboundBuffer[sid], chunk...)
	return len(r.inboundBuffer[sid])
}

// FlushInbound returns and clears the buffered bytes for sid.
func (r *Interactive) FlushInbound(sid sessionid.ID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.inboundBuffer[sid]
	r.inboundBuffer[sid] = nil
	return buf
}

// Status is a point-in-time snapshot of a registry for the admin surface
// (spec.md §4.8, §6 "per-session buffer sizes" / "per-call descriptors").
type Status struct {
	ClientCount  int      `json:"client_count"`
	SessionCount int      `json:"session_count"`
	OrphanedIDs  []string `json:"orphaned_ids,omitempty"`

	// BufferSizes is the inbound (upstream) buffer length in bytes, keyed by
	// session or call id.
	BufferSizes map[string]int `json:"buffer_sizes,omitempty"`

	// DownstreamBufferSizes is the accumulated downstream merge buffer
	// length in bytes, keyed by call id. Telephony.Status only.
	DownstreamBufferSizes map[string]int `json:"downstream_buffer_sizes,omitempty"`

	// AudioFormats is the negotiated audio format per call id.
	// Telephony.Status only.
	AudioFormats map[string]audio.Format `json:"audio_formats,omitempty"`
}

// Status reports registry size, per-session buffer sizes, and any orphaned
// mappings (a session with no backing client, a client with no session, or a
// client/session pair whose reverse mapping was independently removed) for
// the admin surface.
func (r *Interactive) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		ClientCount:  len(r.clientByID),
		SessionCount: len(r.sessionToClient),
		BufferSizes:  make(map[string]int, len(r.inboundBuffer)),
	}
	for sid, buf := range r.inboundBuffer {
		st.BufferSizes[sid.String()] = len(buf)
	}
	for sid, clientID := range r.sessionToClient {
		if _, ok := r.clientByID[clientID]; !ok {
			st.OrphanedIDs = append(st.OrphanedIDs, sid.String())
		}
	}
	for clientID := range r.clientByID {
		if _, ok := r.clientToSession[clientID]; !ok {
			st.OrphanedIDs = append(st.OrphanedIDs, clientID)
		}
	}
	for clientID, sid := range r.clientToSession {
		if mapped, ok := r.sessionToClient[sid]; !ok || mapped != clientID {
			st.OrphanedIDs = append(st.OrphanedIDs, clientID)
		}
	}
	return st
}

// Cleanup performs a liveness sweep: it pings every registered client,
// removes any whose connection is dead, and repairs any session/client
// mapping left dangling by a prior one-sided removal (either direction). It
// returns the number of entries removed.
func (r *Interactive) Cleanup() int {
	r.mu.Lock()
	dead := make(map[string]struct{})
	for clientID, conn := range r.clientByID {
		if err := conn.WriteControl(pingMessageType, nil, time.Now().Add(pingDeadline)); err != nil {
			dead[clientID] = struct{}{}
		}
	}
	for _, clientID := range r.sessionToClient {
		if _, ok := r.clientByID[clientID]; !ok {
			dead[clientID] = struct{}{}
		}
	}
	for clientID, sid := range r.clientToSession {
		if mapped, ok := r.sessionToClient[sid]; !ok || mapped != clientID {
			dead[clientID] = struct{}{}
		}
	}
	for sid, clientID := range r.sessionToClient {
		if mapped, ok := r.clientToSession[clientID]; !ok || mapped != sid {
			delete(r.sessionToClient, sid)
			delete(r.inboundBuffer, sid)
			if !ok {
				dead[clientID] = struct{}{}
			}
		}
	}
	r.mu.Unlock()

	removed := 0
	for clientID := range dead {
		if r.Unregister(clientID) {
			removed++
		}
	}
	return removed
}

const (
	pingMessageType = 9 // websocket.PingMessage
	pingDeadline    = 5 * time.Second
)

// Telephony tracks the /call endpoint's clients and calls: one freeswitch
// client maps to one call id, with both a raw upstream buffer and a
// downstream audio.Merger accumulating AI-backend audio for that call, plus
// the negotiated audio format for emitted containers.
type Telephony struct {
	mu sync.Mutex

	clientByID    map[string]Conn
	callToClient  map[sessionid.ID]string
	clientToCall  map[string]sessionid.ID
	inboundBuffer map[sessionid.ID][]byte
	downstream    map[sessionid.ID]*audio.Merger
	audioFormat   map[sessionid.ID]audio.Format
}

// NewTelephony constructs an empty telephony registry.
func NewTelephony() *Telephony {
	return &Telephony{
		clientByID:    make(map[string]Conn),
		callToClient:  make(map[sessionid.ID]string),
		clientToCall:  make(map[string]sessionid.ID),
		inboundBuffer: make(map[sessionid.ID][]byte),
		downstream:    make(map[sessionid.ID]*audio.Merger),
		audioFormat:   make(map[sessionid.ID]audio.Format),
	}
}

// Register inserts a freeswitch client under callID (client-supplied, or
// freshly minted if absent/malformed — spec.md §3 invariant 6), with f as
// the negotiated audio format for downstream emission.
func (r *Telephony) Register(clientID string, callID sessionid.ID, conn Conn, f audio.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientByID[clientID] = conn
	r.callToClient[callID] = clientID
	r.clientToCall[clientID] = callID
	r.inboundBuffer[callID] = nil
	r.downstream[callID] = &audio.Merger{}
	r.audioFormat[callID] = f
}

// Unregister removes all state for clientID, returning whether anything was
// found to remove (spec.md's cleanup_call_resources equivalent).
func (r *Telephony) Unregister(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found := r.clientByID[clientID]
	delete(r.clientByID, clientID)

	if callID, ok := r.clientToCall[clientID]; ok {
		delete(r.callToClient, callID)
		delete(r.inboundBuffer, callID)
		delete(r.downstream, callID)
		delete(r.audioFormat, callID)
		delete(r.clientToCall, clientID)
		found = true
	}
	return found
}

// ClientForCall resolves the freeswitch client connection registered for
// callID.
func (r *Telephony) ClientForCall(callID sessionid.ID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clientID, ok := r.callToClient[callID]
	if !ok {
		return nil, false
	}
	conn, ok := r.clientByID[clientID]
	return conn, ok
}

// AppendInbound buffers raw upstream audio bytes for callID, reporting the
// buffer's length after appending.
func (r *Telephony) AppendInbound(callID sessionid.ID, chunk []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboundBuffer[callID] = append(r.inboundBuffer[callID], chunk...)
	return len(r.inboundBuffer[callID])
}

// FlushInbound returns and clears the buffered upstream bytes for callID.
func (r *Telephony) FlushInbound(callID sessionid.ID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := r.inboundBuffer[callID]
	r.inboundBuffer[callID] = nil
	return buf
}

// AppendDownstream merges chunk's raw frames into callID's downstream
// accumulator (spec.md §4.5 container-merge rule) and reports the
// accumulator's length after merging along with any parse error from a
// malformed chunk.
func (r *Telephony) AppendDownstream(callID sessionid.ID, chunk []byte) (length int, parseErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.downstream[callID]
	if !ok {
		m = &audio.Merger{}
		r.downstream[callID] = m
	}
	parseErr = m.Append(chunk)
	return m.Len(), parseErr
}

// FlushDownstream synthesizes a single container from callID's accumulated
// downstream frames using its negotiated audio format, then resets the
// accumulator.
func (r *Telephony) FlushDownstream(callID sessionid.ID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.downstream[callID]
	if !ok {
		return nil
	}
	f, ok := r.audioFormat[callID]
	if !ok {
		f = audio.DefaultFormat
	}
	return m.Flush(f)
}

// AudioFormat returns the negotiated audio format for callID, or
// audio.DefaultFormat if none was recorded.
func (r *Telephony) AudioFormat(callID sessionid.ID) audio.Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.audioFormat[callID]; ok {
		return f
	}
	return audio.DefaultFormat
}

// Status reports registry size, per-call buffer sizes, negotiated audio
// formats, and any orphaned mappings (including a call/client pair whose
// reverse mapping was independently removed).
func (r *Telephony) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		ClientCount:           len(r.clientByID),
		SessionCount:          len(r.callToClient),
		BufferSizes:           make(map[string]int, len(r.inboundBuffer)),
		DownstreamBufferSizes: make(map[string]int, len(r.downstream)),
		AudioFormats:          make(map[string]audio.Format, len(r.audioFormat)),
	}
	for callID, buf := range r.inboundBuffer {
		st.BufferSizes[callID.String()] = len(buf)
	}
	for callID, m := range r.downstream {
		st.DownstreamBufferSizes[callID.String()] = m.Len()
	}
	for callID, f := range r.audioFormat {
		st.AudioFormats[callID.String()] = f
	}
	for callID, clientID := range r.callToClient {
		if _, ok := r.clientByID[clientID]; !ok {
			st.OrphanedIDs = append(st.OrphanedIDs, callID.String())
		}
	}
	for clientID := range r.clientByID {
		if _, ok := r.clientToCall[clientID]; !ok {
			st.OrphanedIDs = append(st.OrphanedIDs, clientID)
		}
	}
	for clientID, callID := range r.clientToCall {
		if mapped, ok := r.callToClient[callID]; !ok || mapped != clientID {
			st.OrphanedIDs = append(st.OrphanedIDs, clientID)
		}
	}
	return st
}

// Cleanup performs a liveness sweep: it pings every registered client,
// removes any whose connection is dead, and repairs any call/client mapping
// left dangling by a prior one-sided removal (either direction).
func (r *Telephony) Cleanup() int {
	r.mu.Lock()
	dead := make(map[string]struct{})
	for clientID, conn := range r.clientByID {
		if err := conn.WriteControl(pingMessageType, nil, time.Now().Add(pingDeadline)); err != nil {
			dead[clientID] = struct{}{}
		}
	}
	for _, clientID := range r.callToClient {
		if _, ok := r.clientByID[clientID]; !ok {
			dead[clientID] = struct{}{}
		}
	}
	for clientID, callID := range r.clientToCall {
		if mapped, ok := r.callToClient[callID]; !ok || mapped != clientID {
			dead[clientID] = struct{}{}
		}
	}
	for callID, clientID := range r.callToClient {
		if mapped, ok := r.clientToCall[clientID]; !ok || mapped != callID {
			delete(r.callToClient, callID)
			delete(r.inboundBuffer, callID)
			delete(r.downstream, callID)
			delete(r.audioFormat, callID)
			if !ok {
				dead[clientID] = struct{}{}
			}
		}
	}
	r.mu.Unlock()

	removed := 0
	for clientID := range dead {
		if r.Unregister(clientID) {
			removed++
		}
	}
	return removed
}
