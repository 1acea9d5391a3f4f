// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package proxy

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the message-framed duplex connection surface the proxy needs.
// *websocket.Conn satisfies it directly; tests substitute a fake.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// safeSocket serializes writes to a single socket, matching the
// writeMu-guarded idiom used for the backend websocket connection. gorilla's
// Conn permits only one concurrent writer (data or control frame), so every
// outbound call — including WriteControl, exercised via registry.Conn —
// takes the same mutex.
type safeSocket struct {
	conn    Socket
	writeMu sync.Mutex
}

func newSafeSocket(s Socket) *safeSocket {
	return &safeSocket{conn: s}
}

func (s *safeSocket) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}

func (s *safeSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *safeSocket) Close() error {
	return s.conn.Close()
}

func (s *safeSocket) WriteText(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *safeSocket) WriteBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WriteControl satisfies registry.Conn, serializing pings against data
// writes on the same socket.
func (s *safeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(messageType, data, deadline)
}
