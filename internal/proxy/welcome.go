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
	"time"

	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
)

// welcomeFormat is the fixed descriptor used for the injected welcome
// container (spec.md §4.7), independent of any per-call negotiated format.
var welcomeFormat = streamAudioData{
	AudioDataType: "wav",
	SampleRate:    24000,
	Channels:      1,
	BitDepth:      16,
}

// SendWelcome reads containerPath as-is, base64-encodes it, and sends a
// single streamAudio envelope to sock, then yields ~1s before the caller
// enters its receive loop.
func SendWelcome(sock *safeSocket, containerPath string, logger commons.Logger) error {
	data, err := os.ReadFile(containerPath)
	if err != nil {
		return fmt.Errorf("read welcome container %s: %w", containerPath, err)
	}

	env := welcomeFormat
	env.AudioData = base64.StdEncoding.EncodeToString(data)
	payload, err := json.Marshal(streamAudioEnvelope{Type: "streamAudio", Data: env})
	if err != nil {
		return fmt.Errorf("marshal welcome envelope: %w", err)
	}

	if err := sock.WriteText(payload); err != nil {
		return fmt.Errorf("send welcome envelope: %w", err)
	}
	logger.Infof("welcome audio sent: %d bytes", len(data))
	time.Sleep(time.Second)
	return nil
}
