// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package sessionid implements the proxy's 128-bit session/call identifier:
// wire encoding is 16 raw bytes (spec.md §6); JSON/log rendering is the
// canonical lowercase 8-4-4-4-12 hex-dashed form.
package sessionid

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a process-unique 128-bit session or call identifier.
type ID uuid.UUID

// Size is the wire length of an ID in bytes.
const Size = 16

// New mints a fresh random ID.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical hex-dashed string form. It returns an error if
// s is not a well-formed 128-bit id.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("parse session id %q: %w", s, err)
	}
	return ID(u), nil
}

// ParseOrNew parses s as a canonical id; if s is empty or malformed, it mints
// a fresh id instead. This implements spec.md §3 invariant 6: a client-
// supplied call id is trusted only if it parses, otherwise a fresh id is used.
func ParseOrNew(s string) ID {
	if s == "" {
		return New()
	}
	id, err := Parse(s)
	if err != nil {
		return New()
	}
	return id
}

// FromBytes decodes the first Size bytes of b as an ID. b must be at least
// Size bytes long.
func FromBytes(b []byte) (ID, error) {
	if len(b) < Size {
		return ID{}, fmt.Errorf("session id requires %d bytes, got %d", Size, len(b))
	}
	u, err := uuid.FromBytes(b[:Size])
	if err != nil {
		return ID{}, fmt.Errorf("decode session id bytes: %w", err)
	}
	return ID(u), nil
}

// Bytes returns the raw 16-byte wire encoding.
func (id ID) Bytes() []byte {
	u := uuid.UUID(id)
	out := make([]byte, Size)
	copy(out, u[:])
	return out
}

// String renders the canonical lowercase 8-4-4-4-12 hex-dashed form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero-value id.
func (id ID) IsZero() bool {
	return id == ID{}
}
