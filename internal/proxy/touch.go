// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package proxy

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MetaPowerMatrix/streamproxy/internal/audio"
	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
)

// TouchPlayer paces a touch-sound container's raw frames to a client in
// fixed-size binary chunks (spec.md §4.6).
type TouchPlayer struct {
	Dir       string
	FrameSize int
	Pace      time.Duration
	Logger    commons.Logger
}

// Play selects a random container file from Dir, strips its header, and
// streams the raw frames to sock as ~FrameSize binary chunks, one every
// Pace. amount is accepted for parity with the upstream command but does not
// currently select between variants.
func (p *TouchPlayer) Play(sock *safeSocket, amount float64) error {
	raw, err := p.pickRawFrames()
	if err != nil {
		sock.WriteText(newErrorEnvelope(fmt.Sprintf("touch sound unavailable: %v", err)))
		return err
	}

	for i := 0; i < len(raw); i += p.FrameSize {
		end := i + p.FrameSize
		if end > len(raw) {
			end = len(raw)
		}
		if err := sock.WriteBinary(raw[i:end]); err != nil {
			return err
		}
		time.Sleep(p.Pace)
	}
	p.Logger.Infof("touch audio sent: %d bytes", len(raw))
	return nil
}

func (p *TouchPlayer) pickRawFrames() ([]byte, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("touch sound directory unavailable: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no touch sound candidates in %s", p.Dir)
	}

	name := candidates[rand.Intn(len(candidates))]
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("read touch sound %s: %w", name, err)
	}

	_, raw, err := audio.Parse(data)
	if err != nil {
		// Malformed container: forward the raw bytes, matching the
		// container-merge rule's own fallback behavior.
		return data, nil
	}
	return raw, nil
}
