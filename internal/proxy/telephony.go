// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package proxy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MetaPowerMatrix/streamproxy/internal/audio"
	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
	"github.com/MetaPowerMatrix/streamproxy/internal/registry"
	"github.com/MetaPowerMatrix/streamproxy/internal/sessionid"
)

var telephonyClientSeq int64

func nextTelephonyClientID() string {
	return fmt.Sprintf("fs_client_%d", atomic.AddInt64(&telephonyClientSeq, 1))
}

// supportedContainerTypes are the audio_config.audioDataType values a
// freeswitch handshake may request (spec.md §4.1).
var supportedContainerTypes = map[string]bool{
	"raw": true, "wav": true, "mp3": true, "ogg": true,
}

// audioConfigOverride carries the freeswitch handshake's partial audio
// format descriptor (spec.md §4.1, §3).
type audioConfigOverride struct {
	AudioDataType *string `json:"audioDataType,omitempty"`
	SampleRate    *uint32 `json:"sampleRate,omitempty"`
	Channels      *uint16 `json:"channels,omitempty"`
	BitDepth      *uint16 `json:"bitDepth,omitempty"`
}

// Telephony implements the /call endpoint: an ai_backend connection
// multiplexed over many freeswitch calls (spec.md §1, §4).
type Telephony struct {
	Registry             *registry.Telephony
	Backend              *backendSlot
	ChunkThreshold       int
	AggregateThreshold   int
	ReceiveTimeout       time.Duration
	WelcomeContainerPath string
	DebugAudioDir        string
	Logger               commons.Logger
}

// HandleConnection reads the handshake frame and dispatches to the backend
// or freeswitch read loop (spec.md §4.1).
func (ep *Telephony) HandleConnection(conn Socket) {
	sock := newSafeSocket(conn)
	defer sock.Close()

	_, raw, err := sock.ReadMessage()
	if err != nil {
		ep.Logger.Warnf("call: handshake read failed: %v", err)
		return
	}

	var hs handshake
	if err := json.Unmarshal(raw, &hs); err != nil {
		ep.Logger.Warnf("call: malformed handshake: %v", err)
		sock.WriteText(newErrorEnvelope("malformed handshake"))
		return
	}

	switch hs.ClientType {
	case ClientTypeAIBackend:
		ep.handleBackend(sock)
	case ClientTypeFreeswitch:
		ep.handleFreeswitch(sock, hs)
	case "":
		sock.WriteText(newErrorEnvelope("missing client type"))
	default:
		sock.WriteText(newErrorEnvelope(fmt.Sprintf("unknown client type: %s", hs.ClientType)))
	}
}

func (ep *Telephony) handleBackend(sock *safeSocket) {
	if !ep.Backend.TryRegister(sock) {
		sock.WriteText(newErrorEnvelope("AI backend already connected"))
		return
	}
	ep.Logger.Info("call: AI backend connected")
	defer func() {
		ep.Backend.Clear()
		ep.Logger.Info("call: AI backend disconnected")
	}()

	for {
		messageType, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			ep.Logger.Warnf("call: backend read error: %v", err)
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

func (ep *Telephony) routeBackendText(sock *safeSocket, data []byte) {
	var env backendTextEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		ep.Logger.Errorf("call: malformed backend text frame: %v", err)
		return
	}

	switch env.Type {
	case "heartbeat":
		sock.WriteText(heartbeatAck)
	case "text":
		callID, err := sessionid.Parse(env.CallID)
		if err != nil {
			ep.Logger.Warnf("call: backend text frame has invalid call id: %v", err)
			return
		}
		client, ok := ep.Registry.ClientForCall(callID)
		if !ok {
			ep.Logger.Warnf("call: no client registered for call %s", callID)
			return
		}
		if err := client.(*safeSocket).WriteText(newClientTextEnvelope(callID.String(), env.Content)); err != nil {
			ep.Logger.Errorf("call: forward text to client failed: %v", err)
		}
	default:
		ep.Logger.Warnf("call: backend text frame missing call_id or type")
	}
}

func (ep *Telephony) routeBackendBinary(data []byte) {
	if len(data) <= sessionid.Size {
		ep.Logger.Errorf("call: backend binary frame too short: %d bytes", len(data))
		return
	}
	callID, err := sessionid.FromBytes(data[:sessionid.Size])
	if err != nil {
		ep.Logger.Errorf("call: backend binary frame has invalid call id: %v", err)
		return
	}
	payload := data[sessionid.Size:]

	client, ok := ep.Registry.ClientForCall(callID)
	if !ok {
		ep.Logger.Warnf("call: no client registered for call %s", callID)
		return
	}

	n, parseErr := ep.Registry.AppendDownstream(callID, payload)
	if parseErr != nil {
		ep.Logger.Warnf("call: downstream chunk failed to parse, appended raw: %v, call %s", parseErr, callID)
	}
	if n < ep.AggregateThreshold {
		return
	}
	ep.emitDownstream(client.(*safeSocket), callID)
}

func (ep *Telephony) emitDownstream(sock *safeSocket, callID sessionid.ID) {
	container := ep.Registry.FlushDownstream(callID)
	if len(container) == 0 {
		return
	}
	f := ep.Registry.AudioFormat(callID)

	env := streamAudioEnvelope{
		Type: "streamAudio",
		Data: streamAudioData{
			AudioDataType: "wav",
			SampleRate:    f.SampleRate,
			Channels:      f.Channels,
			BitDepth:      f.BitDepth,
			AudioData:     base64.StdEncoding.EncodeToString(container),
		},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		ep.Logger.Errorf("call: marshal streamAudio envelope failed: %v", err)
		return
	}
	if err := sock.WriteText(payload); err != nil {
		ep.Logger.Errorf("call: send streamAudio envelope failed: %v, call %s", err, callID)
		return
	}
	ep.Logger.Infof("call: forwarded merged audio to freeswitch client, call %s, %d bytes", callID, len(container))
}

// handleFreeswitch runs a freeswitch client's read loop: it registers the
// call, injects the welcome container, then accumulates and forwards
// upstream audio (spec.md §4.1, §4.3, §4.7).
func (ep *Telephony) handleFreeswitch(sock *safeSocket, hs handshake) {
	clientID := nextTelephonyClientID()
	callID := sessionid.ParseOrNew(hs.CallID)

	format, err := parseAudioConfig(hs.AudioConfig)
	if err != nil {
		sock.WriteText(newErrorEnvelope(err.Error()))
		return
	}

	ep.Registry.Register(clientID, callID, sock, format)
	ep.Logger.Infof("call: freeswitch client connected: id=%s call=%s format=%+v", clientID, callID, format)

	if err := SendWelcome(sock, ep.WelcomeContainerPath, ep.Logger); err != nil {
		ep.Logger.Warnf("call: welcome injection failed: %v", err)
	}

	defer ep.finalizeCall(sock, clientID, callID)

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
			ep.Logger.Infof("call: freeswitch client disconnected: %s", clientID)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			ep.bufferAndFlush(callID, data)
		case websocket.TextMessage:
			ep.Logger.Debugf("call: freeswitch text frame: %s", string(data))
		}
	}
}

func (ep *Telephony) bufferAndFlush(callID sessionid.ID, chunk []byte) {
	n := ep.Registry.AppendInbound(callID, chunk)
	if n < ep.ChunkThreshold {
		return
	}
	buf := ep.Registry.FlushInbound(callID)
	if len(buf) == 0 {
		return
	}

	if ep.DebugAudioDir != "" {
		ep.writeDebugTap(callID, buf)
	}

	backend := ep.Backend.Get()
	if backend == nil {
		// No backend registered: restore the buffer so it keeps growing until
		// one connects (spec.md §4.3), matching Interactive.flush.
		ep.Logger.Warnf("call: AI backend not connected, cannot send call audio, call %s", callID)
		ep.Registry.AppendInbound(callID, buf)
		return
	}
	framed := append(callID.Bytes(), buf...)
	if err := backend.WriteBinary(framed); err != nil {
		ep.Logger.Errorf("call: send audio to backend failed: %v, call %s", err, callID)
	}
}

var debugTapSeq int64

// writeDebugTap persists a flushed upstream chunk to DebugAudioDir for
// diagnostics, when enabled.
func (ep *Telephony) writeDebugTap(callID sessionid.ID, raw []byte) {
	n := atomic.AddInt64(&debugTapSeq, 1)
	path := filepath.Join(ep.DebugAudioDir, fmt.Sprintf("%s-%d.wav", callID, n))
	container := audio.Synthesize(raw, audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err := os.WriteFile(path, container, 0o644); err != nil {
		ep.Logger.Warnf("call: debug audio tap write failed: %v", err)
	}
}

// finalizeCall flushes any remaining downstream buffer before tearing down
// the call's registry state (spec.md §4.4 "best-effort final flush").
func (ep *Telephony) finalizeCall(sock *safeSocket, clientID string, callID sessionid.ID) {
	ep.emitDownstream(sock, callID)
	ep.Registry.Unregister(clientID)
	ep.Logger.Infof("call: freeswitch client resources cleaned up: %s", clientID)
}

func parseAudioConfig(raw json.RawMessage) (audio.Format, error) {
	format := audio.DefaultFormat
	containerType := "raw"

	if len(raw) > 0 {
		var override audioConfigOverride
		if err := json.Unmarshal(raw, &override); err != nil {
			return audio.Format{}, fmt.Errorf("malformed audio_config: %w", err)
		}
		if override.AudioDataType != nil {
			containerType = *override.AudioDataType
		}
		if override.SampleRate != nil {
			format.SampleRate = *override.SampleRate
		}
		if override.Channels != nil {
			format.Channels = *override.Channels
		}
		if override.BitDepth != nil {
			format.BitDepth = *override.BitDepth
		}
	}

	if !supportedContainerTypes[containerType] {
		return audio.Format{}, fmt.Errorf("unsupported audio format: %s, supported: raw, wav, mp3, ogg", containerType)
	}
	return format, nil
}
