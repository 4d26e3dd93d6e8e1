package server

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/pointstore/pkg/protocol"
	"github.com/vjranagit/pointstore/pkg/types"
)

const testUUID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

// recordingHandler answers every request with its type byte and keeps the
// frames it saw.
type recordingHandler struct {
	frames []*protocol.Frame
	err    error
}

func (h *recordingHandler) Handle(_ context.Context, f *protocol.Frame) ([]byte, error) {
	if h.err != nil {
		return nil, h.err
	}
	h.frames = append(h.frames, f)
	return []byte{byte(f.Type)}, nil
}

func mustGet(t *testing.T, start, end uint32) []byte {
	t.Helper()
	b, err := protocol.EncodeGet(testUUID, types.TimeRange{Start: start, End: end})
	require.NoError(t, err)
	return b
}

func mustPut(t *testing.T, records ...types.Record) []byte {
	t.Helper()
	b, err := protocol.EncodePut(testUUID, records)
	require.NoError(t, err)
	return b
}

func TestConnReceiveFragments(t *testing.T) {
	h := &recordingHandler{}
	var out bytes.Buffer
	c := NewConn(&out, h, protocol.DefaultMaxRecords)

	frame := mustPut(t, types.Record{Time: 1, Value: 1}, types.Record{Time: 2, Value: 2})
	for i := 0; i < len(frame); i += 5 {
		end := min(i+5, len(frame))
		require.NoError(t, c.Receive(context.Background(), frame[i:end]))
		if end < len(frame) {
			assert.Empty(t, h.frames)
			assert.Equal(t, end, c.Pending())
		}
	}

	require.Len(t, h.frames, 1)
	assert.Len(t, h.frames[0].Records, 2)
	assert.Equal(t, []byte{2}, out.Bytes())
	assert.Equal(t, 1, c.Served())
	assert.Zero(t, c.Pending())
}

func TestConnReceivePipelinedFrames(t *testing.T) {
	h := &recordingHandler{}
	var out bytes.Buffer
	c := NewConn(&out, h, protocol.DefaultMaxRecords)

	unknown, err := protocol.EncodeUnknown(9, testUUID)
	require.NoError(t, err)

	var stream []byte
	stream = append(stream, mustPut(t, types.Record{Time: 1, Value: 1})...)
	stream = append(stream, unknown...)
	stream = append(stream, mustGet(t, 0, 10)...)
	stream = append(stream, mustPut(t, types.Record{Time: 2}, types.Record{Time: 3})[:60]...)

	require.NoError(t, c.Receive(context.Background(), stream))

	require.Len(t, h.frames, 3)
	assert.Equal(t, protocol.TypePut, h.frames[0].Type)
	assert.Equal(t, protocol.TypeUnknown, h.frames[1].Type)
	assert.Equal(t, protocol.TypeGet, h.frames[2].Type)
	assert.Equal(t, []byte{2, 0, 1}, out.Bytes())
	assert.Equal(t, 60, c.Pending())
}

func TestConnReceiveInvalidFrame(t *testing.T) {
	h := &recordingHandler{}
	var out bytes.Buffer
	c := NewConn(&out, h, 4)

	frame := mustPut(t, make([]types.Record, 5)...)
	err := c.Receive(context.Background(), frame)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.Empty(t, out.Bytes())
}

func TestConnReceiveHandlerError(t *testing.T) {
	boom := errors.New("disk full")
	h := &recordingHandler{err: boom}
	var out bytes.Buffer
	c := NewConn(&out, h, protocol.DefaultMaxRecords)

	err := c.Receive(context.Background(), mustPut(t, types.Record{Time: 1}))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, out.Bytes(), "no response may follow a failed request")
	assert.Zero(t, c.Served())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestConnReceiveWriteError(t *testing.T) {
	c := NewConn(failingWriter{}, &recordingHandler{}, protocol.DefaultMaxRecords)
	assert.Error(t, c.Receive(context.Background(), mustGet(t, 0, 1)))
}
