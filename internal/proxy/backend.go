// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package proxy

import "sync"

// backendSlot holds the single exclusive AI backend connection for one
// endpoint (spec.md §4.1: "on duplicate ai_backend registration the handler
// rejects"). Re-registration is only possible once the prior connection has
// cleared the slot.
type backendSlot struct {
	mu   sync.Mutex
	sock *safeSocket
}

// NewBackendSlot constructs an empty backend slot.
func NewBackendSlot() *backendSlot {
	return &backendSlot{}
}

// TryRegister installs sock as the backend connection if the slot is empty.
// It reports whether registration succeeded.
func (b *backendSlot) TryRegister(sock *safeSocket) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sock != nil {
		return false
	}
	b.sock = sock
	return true
}

// Clear empties the slot, used when the backend connection's reader loop
// exits.
func (b *backendSlot) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sock = nil
}

// Get returns the current backend connection, or nil if none is registered.
func (b *backendSlot) Get() *safeSocket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sock
}
