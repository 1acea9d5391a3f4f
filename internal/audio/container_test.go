package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		f    Format
	}{
		{"mono16k16bit", bytes.Repeat([]byte{0x01, 0x02}, 100), Format{SampleRate: 16000, Channels: 1, BitDepth: 16}},
		{"stereo8k8bit", bytes.Repeat([]byte{0xAA}, 50), Format{SampleRate: 8000, Channels: 2, BitDepth: 8}},
		{"empty", []byte{}, DefaultFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			container := Synthesize(tc.raw, tc.f)

			assert.Equal(t, "RIFF", string(container[0:4]))
			assert.Equal(t, "WAVE", string(container[8:12]))
			assert.Equal(t, headerSize+len(tc.raw), len(container))

			gotFormat, gotRaw, err := Parse(container)
			require.NoError(t, err)
			assert.Equal(t, tc.f, gotFormat)
			assert.Equal(t, tc.raw, gotRaw)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name      string
		container []byte
	}{
		{"tooShort", []byte{0x01, 0x02, 0x03}},
		{"badMagic", bytes.Repeat([]byte{0x00}, 44)},
		{"truncatedData", func() []byte {
			c := Synthesize(bytes.Repeat([]byte{0x01}, 20), DefaultFormat)
			return c[:len(c)-10]
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.container)
			assert.Error(t, err)
		})
	}
}

func TestMergerStripsHeadersAndConcatenates(t *testing.T) {
	f := DefaultFormat
	chunk1 := bytes.Repeat([]byte{0x01}, 10)
	chunk2 := bytes.Repeat([]byte{0x02}, 20)

	m := &Merger{}
	require.NoError(t, m.Append(Synthesize(chunk1, f)))
	require.NoError(t, m.Append(Synthesize(chunk2, f)))
	assert.Equal(t, len(chunk1)+len(chunk2), m.Len())

	merged := m.Flush(f)
	gotFormat, gotRaw, err := Parse(merged)
	require.NoError(t, err)
	assert.Equal(t, f, gotFormat)
	assert.Equal(t, append(append([]byte{}, chunk1...), chunk2...), gotRaw)

	assert.Equal(t, 0, m.Len(), "Flush must reset the accumulator")
}

func TestMergerFlushOnEmptyReturnsNil(t *testing.T) {
	m := &Merger{}
	assert.Nil(t, m.Flush(DefaultFormat))
}

func TestMergerFallsBackToRawAppendOnMalformedChunk(t *testing.T) {
	m := &Merger{}
	malformed := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	err := m.Append(malformed)
	assert.Error(t, err)
	assert.Equal(t, len(malformed), m.Len())

	out := m.Flush(DefaultFormat)
	_, raw, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, malformed, raw)
}
