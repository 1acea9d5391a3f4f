package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/MetaPowerMatrix/streamproxy/internal/audio"
	"github.com/MetaPowerMatrix/streamproxy/internal/sessionid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	alive bool
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if f.alive {
		return nil
	}
	return errors.New("connection closed")
}

func TestInteractiveRegisterAndResolve(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}

	sid := r.Register("client-1", conn)
	assert.False(t, sid.IsZero())

	got, ok := r.ClientForSession(sid)
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestInteractiveUnregisterRemovesAllMappings(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}
	sid := r.Register("client-1", conn)

	assert.True(t, r.Unregister("client-1"))
	_, ok := r.ClientForSession(sid)
	assert.False(t, ok)

	st := r.Status()
	assert.Equal(t, 0, st.ClientCount)
	assert.Equal(t, 0, st.SessionCount)
}

func TestInteractiveUnregisterUnknownClientIsNoop(t *testing.T) {
	r := NewInteractive()
	assert.False(t, r.Unregister("missing"))
}

func TestInteractiveAppendAndFlushInbound(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}
	sid := r.Register("client-1", conn)

	n := r.AppendInbound(sid, []byte{1, 2, 3})
	assert.Equal(t, 3, n)
	n = r.AppendInbound(sid, []byte{4, 5})
	assert.Equal(t, 5, n)

	buf := r.FlushInbound(sid)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf)

	assert.Equal(t, 0, r.AppendInbound(sid, nil))
}

func TestInteractiveCleanupRemovesDeadConnections(t *testing.T) {
	r := NewInteractive()
	deadConn := &fakeConn{alive: false}
	aliveConn := &fakeConn{alive: true}

	deadSID := r.Register("dead-client", deadConn)
	aliveSID := r.Register("alive-client", aliveConn)

	removed := r.Cleanup()
	assert.Equal(t, 1, removed)

	_, ok := r.ClientForSession(deadSID)
	assert.False(t, ok)
	_, ok = r.ClientForSession(aliveSID)
	assert.True(t, ok)
}

func TestInteractiveStatusReportsOrphans(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}
	sid := r.Register("client-1", conn)

	// Simulate a partial removal leaving the client map intact but the
	// session mapping gone, by deleting directly.
	r.mu.Lock()
	delete(r.clientToSession, "client-1")
	delete(r.sessionToClient, sid)
	r.mu.Unlock()

	st := r.Status()
	assert.Contains(t, st.OrphanedIDs, "client-1")
}

func TestInteractiveStatusReportsOneSidedOrphan(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}
	sid := r.Register("client-1", conn)

	// Remove only the session->client direction, leaving client->session
	// intact (spec.md §8 Scenario S6).
	r.mu.Lock()
	delete(r.sessionToClient, sid)
	r.mu.Unlock()

	st := r.Status()
	assert.Contains(t, st.OrphanedIDs, "client-1")
}

func TestInteractiveCleanupRepairsOneSidedOrphan(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}
	sid := r.Register("client-1", conn)

	r.mu.Lock()
	delete(r.sessionToClient, sid)
	r.mu.Unlock()

	removed := r.Cleanup()
	assert.Equal(t, 1, removed)

	st := r.Status()
	assert.Equal(t, 0, st.ClientCount)
	assert.Empty(t, st.OrphanedIDs)
}

func TestInteractiveStatusReportsBufferSizes(t *testing.T) {
	r := NewInteractive()
	conn := &fakeConn{alive: true}
	sid := r.Register("client-1", conn)
	r.AppendInbound(sid, []byte{1, 2, 3, 4})

	st := r.Status()
	assert.Equal(t, 4, st.BufferSizes[sid.String()])
}

func TestTelephonyRegisterAndResolve(t *testing.T) {
	r := NewTelephony()
	conn := &fakeConn{alive: true}
	callID := sessionid.New()

	r.Register("fs-client-1", callID, conn, audio.DefaultFormat)

	got, ok := r.ClientForCall(callID)
	require.True(t, ok)
	assert.Same(t, conn, got)
	assert.Equal(t, audio.DefaultFormat, r.AudioFormat(callID))
}

func TestTelephonyUnregisterRemovesAllMappings(t *testing.T) {
	r := NewTelephony()
	conn := &fakeConn{alive: true}
	callID := sessionid.New()
	r.Register("fs-client-1", callID, conn, audio.DefaultFormat)

	assert.True(t, r.Unregister("fs-client-1"))
	_, ok := r.ClientForCall(callID)
	assert.False(t, ok)

	st := r.Status()
	assert.Equal(t, 0, st.ClientCount)
	assert.Equal(t, 0, st.SessionCount)
}

func TestTelephonyDownstreamMergeAndFlush(t *testing.T) {
	r := NewTelephony()
	conn := &fakeConn{alive: true}
	callID := sessionid.New()
	f := audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}
	r.Register("fs-client-1", callID, conn, f)

	chunk1 := audio.Synthesize([]byte{1, 2, 3, 4}, f)
	chunk2 := audio.Synthesize([]byte{5, 6}, f)

	n, err := r.AppendDownstream(callID, chunk1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = r.AppendDownstream(callID, chunk2)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	merged := r.FlushDownstream(callID)
	gotFormat, raw, err := audio.Parse(merged)
	require.NoError(t, err)
	assert.Equal(t, f, gotFormat)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, raw)

	n, _ = r.AppendDownstream(callID, audio.Synthesize(nil, f))
	assert.Equal(t, 0, n)
}

func TestTelephonyCleanupRemovesDeadConnections(t *testing.T) {
	r := NewTelephony()
	deadConn := &fakeConn{alive: false}
	callID := sessionid.New()
	r.Register("fs-dead", callID, deadConn, audio.DefaultFormat)

	removed := r.Cleanup()
	assert.Equal(t, 1, removed)

	_, ok := r.ClientForCall(callID)
	assert.False(t, ok)
}

func TestTelephonyStatusReportsOneSidedOrphan(t *testing.T) {
	r := NewTelephony()
	conn := &fakeConn{alive: true}
	callID := sessionid.New()
	r.Register("fs-client-1", callID, conn, audio.DefaultFormat)

	// Remove only the call->client direction, leaving client->call intact
	// (spec.md §8 Scenario S6).
	r.mu.Lock()
	delete(r.callToClient, callID)
	r.mu.Unlock()

	st := r.Status()
	assert.Contains(t, st.OrphanedIDs, "fs-client-1")
}

func TestTelephonyCleanupRepairsOneSidedOrphan(t *testing.T) {
	r := NewTelephony()
	conn := &fakeConn{alive: true}
	callID := sessionid.New()
	r.Register("fs-client-1", callID, conn, audio.DefaultFormat)

	r.mu.Lock()
	delete(r.callToClient, callID)
	r.mu.Unlock()

	removed := r.Cleanup()
	assert.Equal(t, 1, removed)

	st := r.Status()
	assert.Equal(t, 0, st.ClientCount)
	assert.Empty(t, st.OrphanedIDs)
}

func TestTelephonyStatusReportsBuffersAndFormats(t *testing.T) {
	r := NewTelephony()
	conn := &fakeConn{alive: true}
	callID := sessionid.New()
	f := audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 16}
	r.Register("fs-client-1", callID, conn, f)

	r.AppendInbound(callID, []byte{1, 2, 3})
	_, err := r.AppendDownstream(callID, audio.Synthesize([]byte{9, 9}, f))
	require.NoError(t, err)

	st := r.Status()
	assert.Equal(t, 3, st.BufferSizes[callID.String()])
	assert.Equal(t, 2, st.DownstreamBufferSizes[callID.String()])
	assert.Equal(t, f, st.AudioFormats[callID.String()])
}
