// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audio synthesizes and parses the fixed-layout linear-PCM container
// used on the telephony downstream path, and implements the container-merge
// rule (spec.md §4.5).
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	headerSize    = 44 // 4 (RIFF) + 4 (size) + 4 (WAVE) + 8+16 (fmt chunk) + 8 (data chunk header)
	pcmFormatTag  = 1
	fmtChunkSize  = 16
	riffOverhead  = 36 // everything after the 4-byte RIFF size field except the data payload
	minHeaderSize = headerSize
)

// Format describes the sample geometry of a container (spec.md §3 "Audio
// format descriptor").
type Format struct {
	SampleRate uint32
	Channels   uint16
	BitDepth   uint16 // bits per sample, e.g. 16
}

// BytesPerSample returns the sample width in bytes.
func (f Format) BytesPerSample() int {
	return int(f.BitDepth) / 8
}

// DefaultFormat is the telephony default: raw linear16, 16kHz, mono.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// Synthesize builds a complete fixed-layout PCM container from raw frame
// bytes and a format descriptor (spec.md §4.5 step 3). All integer fields
// are little-endian.
func Synthesize(raw []byte, f Format) []byte {
	bytesPerSample := f.BytesPerSample()
	blockAlign := int(f.Channels) * bytesPerSample
	byteRate := int(f.SampleRate) * blockAlign

	buf := new(bytes.Buffer)
	buf.Grow(headerSize + len(raw))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(riffOverhead+len(raw)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormatTag))
	binary.Write(buf, binary.LittleEndian, f.Channels)
	binary.Write(buf, binary.LittleEndian, f.SampleRate)
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, f.BitDepth)

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(raw)))
	buf.Write(raw)

	return buf.Bytes()
}

// Parse splits a container into its format descriptor and raw frame bytes.
// It validates the RIFF/WAVE/fmt/data chunk markers and the declared data
// length, returning an error for anything else so callers can fall back to
// the container-merge rule's byte-append behavior (spec.md §4.5, §9).
func Parse(container []byte) (Format, []byte, error) {
	if len(container) < minHeaderSize {
		return Format{}, nil, fmt.Errorf("container too short: %d bytes", len(container))
	}
	if string(container[0:4]) != "RIFF" || string(container[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("not a RIFF/WAVE container")
	}
	if string(container[12:16]) != "fmt " {
		return Format{}, nil, fmt.Errorf("missing fmt chunk")
	}
	fmtSize := binary.LittleEndian.Uint32(container[16:20])
	if fmtSize < fmtChunkSize {
		return Format{}, nil, fmt.Errorf("unexpected fmt chunk size %d", fmtSize)
	}

	formatTag := binary.LittleEndian.Uint16(container[20:22])
	if formatTag != pcmFormatTag {
		return Format{}, nil, fmt.Errorf("unsupported format tag %d (only linear PCM is supported)", formatTag)
	}
	channels := binary.LittleEndian.Uint16(container[22:24])
	sampleRate := binary.LittleEndian.Uint32(container[24:28])
	bitDepth := binary.LittleEndian.Uint16(container[34:36])

	dataChunkOffset := 20 + int(fmtSize)
	if len(container) < dataChunkOffset+8 {
		return Format{}, nil, fmt.Errorf("container truncated before data chunk")
	}
	if string(container[dataChunkOffset:dataChunkOffset+4]) != "data" {
		return Format{}, nil, fmt.Errorf("missing data chunk")
	}
	dataLen := binary.LittleEndian.Uint32(container[dataChunkOffset+4 : dataChunkOffset+8])
	dataStart := dataChunkOffset + 8
	dataEnd := dataStart + int(dataLen)
	if dataEnd > len(container) {
		return Format{}, nil, fmt.Errorf("declared data length %d exceeds container size", dataLen)
	}

	f := Format{SampleRate: sampleRate, Channels: channels, BitDepth: bitDepth}
	raw := make([]byte, dataLen)
	copy(raw, container[dataStart:dataEnd])
	return f, raw, nil
}

// Merger accumulates raw PCM frames across incoming containers, implementing
// the container-merge rule of spec.md §4.5. It is not safe for concurrent
// use; callers serialize access (e.g. via registry's per-endpoint mutex).
type Merger struct {
	raw bytes.Buffer
}

// Append adds the raw frames of one incoming chunk to the merger. If chunk
// parses as a well-formed container, only its raw frames are retained
// (header stripped); otherwise, per spec.md §4.5 step 1/§9, the chunk is
// appended as-is and parseErr is returned so the caller can log the fallback.
func (m *Merger) Append(chunk []byte) (parseErr error) {
	_, raw, err := Parse(chunk)
	if err != nil {
		m.raw.Write(chunk)
		return err
	}
	m.raw.Write(raw)
	return nil
}

// Len returns the number of raw frame bytes accumulated so far.
func (m *Merger) Len() int {
	return m.raw.Len()
}

// Flush synthesizes a single container from the accumulated raw frames using
// f, then resets the merger. It returns nil without synthesizing anything if
// no frames have accumulated since the last Flush, so callers can tell "nothing to send"
// apart from "an empty container" by checking len(result) == 0.
func (m *Merger) Flush(f Format) []byte {
	if m.raw.Len() == 0 {
		return nil
	}
	raw := make([]byte, m.raw.Len())
	copy(raw, m.raw.Bytes())
	m.raw.Reset()
	return Synthesize(raw, f)
}
