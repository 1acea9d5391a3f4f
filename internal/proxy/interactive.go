// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package proxy

import (
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
	"github.com/MetaPowerMatrix/streamproxy/internal/registry"
	"github.com/MetaPowerMatrix/streamproxy/internal/sessionid"
)

var interactiveClientSeq int64

func nextInteractiveClientID() string {
	return fmt.Sprintf("client_%d", atomic.AddInt64(&interactiveClientSeq, 1))
}

// Interactive implements the /proxy endpoint: an ai_backend connection
// multiplexed over many frontend client sessions (spec.md §1, §4).
type Interactive struct {
	Registry       *registry.Interactive
	Backend        *backendSlot
	Touch          *TouchPlayer
	ChunkThreshold int
	ReceiveTimeout time.Duration
	Logger         commons.Logger
}

// HandleConnection reads the handshake frame and dispatches to the backend
// or frontend read loop (spec.md §4.1).
func (ep *Interactive) HandleConnection(conn Socket) {
	sock := newSafeSocket(conn)
	defer sock.Close()

	_, raw, err := sock.ReadMessage()
	if err != nil {
		ep.Logger.Warnf("proxy: handshake read failed: %v", err)
		return
	}

	var hs handshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		ep.Logger.Warnf("proxy: malformed handshake: %v", err)
		sock.WriteText(newErrorEnvelope("malformed handshake"))
		return
	}

	switch hs.ClientType {
	case ClientTypeAIBackend:
		ep.handleBackend(sock)
	case ClientTypeFrontend:
		ep.handleFrontend(sock)
	case "":
		sock.WriteText(newErrorEnvelope("missing client type"))
	default:
		sock.WriteText(newErrorEnvelope(fmt.Sprintf("unknown client type: %s", hs.ClientType)))
	}
}

// handleBackend runs the single exclusive backend reader task: it
// demultiplexes text and binary frames to the addressed frontend session
// (spec.md §4.4).
func (ep *Interactive) handleBackend(sock *safeSocket) {
	if !ep.Backend.TryRegister(sock) {
		sock.WriteText(newErrorEnvelope("AI backend already connected"))
		return
	}
	ep.Logger.Info("proxy: AI backend connected")
	defer func() {
		ep.Backend.Clear()
		ep.Logger.Info("proxy: AI backend disconnected")
	}()

	for {
		messageType, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			ep.Logger.Warnf("proxy: backend read error: %v", err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			ep.routeBackendText(sock, data)
		case websocket.BinaryMessage:
			ep.routeBackendBinary(data)
		}
	}
}

func (ep *Interactive) routeBackendText(sock *safeSocket, data []byte) {
	var env backendTextEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		ep.Logger.Errorf("proxy: malformed backend text frame: %v", err)
		return
	}

	switch env.Type {
	case "heartbeat":
		sock.WriteText(heartbeatAck)
	case "text":
		sid, err := sessionid.Parse(env.SessionID)
		if err != nil {
			ep.Logger.Warnf("proxy: backend text frame has invalid session id: %v", err)
			return
		}
		client, ok := ep.Registry.ClientForSession(sid)
		if !ok {
			ep.Logger.Warnf("proxy: no client registered for session %s", sid)
			return
		}
		if err := client.(*safeSocket).WriteText(newClientTextEnvelope("", env.Content)); err != nil {
			ep.Logger.Errorf("proxy: forward text to client failed: %v", err)
		}
	default:
		ep.Logger.Warnf("proxy: backend text frame missing session_id or type")
	}
}

func (ep *Interactive) routeBackendBinary(data []byte) {
	if len(data) <= sessionid.Size {
		ep.Logger.Errorf("proxy: backend binary frame too short: %d bytes", len(data))
		return
	}
	sid, err := sessionid.FromBytes(data[:sessionid.Size])
	if err != nil {
		ep.Logger.Errorf("proxy: backend binary frame has invalid session id: %v", err)
		return
	}
	payload := data[sessionid.Size:]

	client, ok := ep.Registry.ClientForSession(sid)
	if !ok {
		ep.Logger.Warnf("proxy: no client registered for session %s", sid)
		return
	}
	if err := client.(*safeSocket).WriteBinary(payload); err != nil {
		ep.Logger.Errorf("proxy: forward audio to client failed: %v, session %s", err, sid)
	}
}

// handleFrontend runs a frontend client's read loop: it accumulates inbound
// audio, flushes at threshold, and honors control commands (spec.md §4.3).
func (ep *Interactive) handleFrontend(sock *safeSocket) {
	clientID := nextInteractiveClientID()
	sid := ep.Registry.Register(clientID, sock)
	ep.Logger.Infof("proxy: frontend client connected: id=%s session=%s", clientID, sid)

	sock.WriteText(newSessionInfoEnvelope(sid.String(), clientID))

	defer func() {
		ep.Registry.Unregister(clientID)
		ep.Logger.Infof("proxy: frontend client resources cleaned up: %s", clientID)
	}()

	for {
		sock.SetReadDeadline(time.Now().Add(ep.ReceiveTimeout))
		messageType, data, err := sock.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			ep.Logger.Infof("proxy: frontend client disconnected: %s", clientID)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			ep.bufferAndFlush(sid, data)
		case websocket.TextMessage:
			ep.handleFrontendCommand(sock, sid, data)
		}
	}
}

func (ep *Interactive) bufferAndFlush(sid sessionid.ID, chunk []byte) {
	n := ep.Registry.AppendInbound(sid, chunk)
	if n < ep.ChunkThreshold {
		return
	}
	ep.flush(sid)
}

func (ep *Interactive) flush(sid sessionid.ID) {
	buf := ep.Registry.FlushInbound(sid)
	if len(buf) == 0 {
		return
	}
	backend := ep.Backend.Get()
	if backend == nil {
		// No backend registered: restore the buffer so it grows until one
		// connects (spec.md §4.3).
		ep.Registry.AppendInbound(sid, buf)
		return
	}
	framed := append(sid.Bytes(), buf...)
	if err := backend.WriteBinary(framed); err != nil {
		ep.Logger.Errorf("proxy: send audio to backend failed: %v, session %s", err, sid)
	}
}

func (ep *Interactive) handleFrontendCommand(sock *safeSocket, sid sessionid.ID, data []byte) {
	var cmd commandEnvelope
	if err := json.Unmarshal(data, &cmd); err != nil {
		ep.Logger.Warnf("proxy: malformed frontend command: %v", err)
		return
	}

	switch cmd.Command {
	case CommandAudioComplete:
		ep.flush(sid)
	case CommandTouch:
		if err := ep.Touch.Play(sock, cmd.Amount); err != nil {
			ep.Logger.Warnf("proxy: touch playback failed: %v", err)
		}
	default:
		if cmd.Command != "" {
			ep.Logger.Warnf("proxy: unrecognized command: %s", cmd.Command)
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
