// Package protocol implements the binary request/response format of the
// point store.
//
// A request starts with a fixed 56 byte header:
//
//	0-4    type          1 = GET, 2 = PUT, anything else is unknown
//	4-40   uuid          stream identifier, raw bytes
//	40-44  reserved
//	44-48  record count  PUT only
//	48-52  start / time  GET: range start, PUT: embedded record time
//	52-56  end / value   GET: range end, PUT: embedded record value
//
// A PUT with a record count of one carries its record in the header. Larger
// PUTs ignore the embedded record and are followed by count 8 byte records.
// All integers and floats are little-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vjranagit/pointstore/pkg/types"
)

const (
	// HeaderSize is the size of the fixed request header.
	HeaderSize = 56

	// RecordSize is the encoded size of one record: u32 time, f32 value.
	RecordSize = 8

	// DefaultMaxRecords bounds the records a single PUT may declare.
	DefaultMaxRecords = 1 << 20
)

const (
	typeOffset   = 0
	uuidOffset   = 4
	countOffset  = 44
	firstOffset  = 48
	secondOffset = 52
	uuidEnd      = uuidOffset + types.UUIDLength
	fieldSize    = 4
	typeEnd      = typeOffset + fieldSize

	// maxRetainedSize bounds the buffer a Request keeps across Reset.
	maxRetainedSize = 64 * HeaderSize
)

var byteOrder = binary.LittleEndian

// Type is the kind of a request.
type Type uint32

const (
	TypeUnknown Type = 0
	TypeGet     Type = 1
	TypePut     Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeGet:
		return "get"
	case TypePut:
		return "put"
	default:
		return "unknown"
	}
}

// Request accumulates the bytes of one request as they arrive on a
// connection. It never takes more bytes than the frame it is decoding, so
// the remainder of a chunk belongs to the next request.
type Request struct {
	data       []byte
	maxRecords uint32
}

// NewRequest creates an empty request. maxRecords bounds the record count a
// PUT may declare; zero selects DefaultMaxRecords.
func NewRequest(maxRecords uint32) *Request {
	if maxRecords == 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Request{
		data:       make([]byte, 0, HeaderSize),
		maxRecords: maxRecords,
	}
}

// Len returns the number of bytes received so far.
func (r *Request) Len() int {
	return len(r.data)
}

// Reset discards the received bytes so the request can be reused for the
// next frame on the same connection.
func (r *Request) Reset() {
	if cap(r.data) > maxRetainedSize {
		r.data = make([]byte, 0, HeaderSize)
		return
	}
	r.data = r.data[:0]
}

// Feed appends bytes from p until the current frame is complete and returns
// how many bytes were taken. An error means the frame can never be
// completed and the connection should be dropped.
func (r *Request) Feed(p []byte) (int, error) {
	consumed := 0
	for consumed < len(p) {
		need, err := r.missing()
		if err != nil {
			return consumed, err
		}
		if need == 0 {
			break
		}
		n := min(need, len(p)-consumed)
		r.data = append(r.data, p[consumed:consumed+n]...)
		consumed += n
	}

	// The last chunk may have completed the header of an invalid frame.
	if _, err := r.missing(); err != nil {
		return consumed, err
	}
	return consumed, nil
}

// missing returns how many more bytes the current frame needs.
func (r *Request) missing() (int, error) {
	if !r.received(HeaderSize) {
		return HeaderSize - len(r.data), nil
	}
	size, err := r.FrameSize()
	if err != nil {
		return 0, err
	}
	return max(size-len(r.data), 0), nil
}

// FrameSize returns the total size of the frame once the header is known.
func (r *Request) FrameSize() (int, error) {
	if !r.received(HeaderSize) {
		return 0, fmt.Errorf("frame size: %w", ErrNotAvailable)
	}
	t, err := r.Type()
	if err != nil {
		return 0, err
	}
	if t != TypePut {
		return HeaderSize, nil
	}
	count, err := r.RecordCount()
	if err != nil {
		return 0, err
	}
	switch {
	case count == 0:
		return 0, fmt.Errorf("%w: put declares no records", ErrInvalidRecordCount)
	case count > r.maxRecords:
		return 0, fmt.Errorf("%w: %d records, limit %d", ErrFrameTooLarge, count, r.maxRecords)
	case count == 1:
		return HeaderSize, nil
	default:
		return HeaderSize + RecordSize*int(count), nil
	}
}

// Complete reports whether the whole frame has been received. An error
// means the header describes a frame that will never be served.
func (r *Request) Complete() (bool, error) {
	if !r.received(HeaderSize) {
		return false, nil
	}
	size, err := r.FrameSize()
	if err != nil {
		return false, err
	}
	return len(r.data) >= size, nil
}

// Type returns the request type. Unrecognized values map to TypeUnknown.
func (r *Request) Type() (Type, error) {
	if !r.received(typeEnd) {
		return TypeUnknown, fmt.Errorf("type: %w", ErrNotAvailable)
	}
	switch t := Type(byteOrder.Uint32(r.data[typeOffset:typeEnd])); t {
	case TypeGet, TypePut:
		return t, nil
	default:
		return TypeUnknown, nil
	}
}

// RawUUID returns the stream id bytes without validating them.
func (r *Request) RawUUID() (string, error) {
	if !r.received(uuidEnd) {
		return "", fmt.Errorf("uuid: %w", ErrNotAvailable)
	}
	return string(r.data[uuidOffset:uuidEnd]), nil
}

// UUID returns the stream id, rejecting ids that can not name a file.
func (r *Request) UUID() (string, error) {
	id, err := r.RawUUID()
	if err != nil {
		return "", err
	}
	if err := types.ValidateStreamID(id); err != nil {
		return "", err
	}
	return id, nil
}

// RecordCount returns the number of records a PUT declares.
func (r *Request) RecordCount() (uint32, error) {
	return r.typedUint32("record count", TypePut, countOffset)
}

// StartTime returns the start of the range of a GET.
func (r *Request) StartTime() (uint32, error) {
	return r.typedUint32("start time", TypeGet, firstOffset)
}

// EndTime returns the end of the range of a GET.
func (r *Request) EndTime() (uint32, error) {
	return r.typedUint32("end time", TypeGet, secondOffset)
}

// Range returns the inclusive time range of a GET.
func (r *Request) Range() (types.TimeRange, error) {
	start, err := r.StartTime()
	if err != nil {
		return types.TimeRange{}, err
	}
	end, err := r.EndTime()
	if err != nil {
		return types.TimeRange{}, err
	}
	return types.TimeRange{Start: start, End: end}, nil
}

// RecordTime returns the time of the record embedded in a PUT header.
func (r *Request) RecordTime() (uint32, error) {
	return r.typedUint32("record time", TypePut, firstOffset)
}

// RecordValue returns the value of the record embedded in a PUT header.
func (r *Request) RecordValue() (float32, error) {
	bits, err := r.typedUint32("record value", TypePut, secondOffset)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// Records returns the records carried by a complete PUT: the embedded
// record when the count is one, the trailing records otherwise.
func (r *Request) Records() ([]types.Record, error) {
	count, err := r.RecordCount()
	if err != nil {
		return nil, err
	}
	complete, err := r.Complete()
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("records: %w", ErrIncomplete)
	}

	if count == 1 {
		return []types.Record{decodeRecord(r.data[firstOffset:])}, nil
	}

	records := make([]types.Record, count)
	for i := range records {
		records[i] = decodeRecord(r.data[HeaderSize+RecordSize*i:])
	}
	return records, nil
}

// Frame is a fully decoded request.
type Frame struct {
	Type Type
	UUID string

	// Range is set for GET requests.
	Range types.TimeRange

	// RecordCount and Records are set for PUT requests.
	RecordCount uint32
	Records     []types.Record
}

// Decode returns the typed request once the frame is complete. Unknown
// requests carry only the raw uuid.
func (r *Request) Decode() (*Frame, error) {
	complete, err := r.Complete()
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("decode: %w", ErrIncomplete)
	}

	t, err := r.Type()
	if err != nil {
		return nil, err
	}

	if t == TypeUnknown {
		id, err := r.RawUUID()
		if err != nil {
			return nil, err
		}
		return &Frame{Type: t, UUID: id}, nil
	}

	id, err := r.UUID()
	if err != nil {
		return nil, err
	}
	f := &Frame{Type: t, UUID: id}

	switch t {
	case TypeGet:
		if f.Range, err = r.Range(); err != nil {
			return nil, err
		}
	case TypePut:
		if f.RecordCount, err = r.RecordCount(); err != nil {
			return nil, err
		}
		if f.Records, err = r.Records(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (r *Request) typedUint32(field string, want Type, offset int) (uint32, error) {
	t, err := r.Type()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if t != want {
		return 0, fmt.Errorf("%s on %s request: %w", field, t, ErrWrongType)
	}
	if !r.received(offset + fieldSize) {
		return 0, fmt.Errorf("%s: %w", field, ErrNotAvailable)
	}
	return byteOrder.Uint32(r.data[offset : offset+fieldSize]), nil
}

func (r *Request) received(n int) bool {
	return len(r.data) >= n
}

func decodeRecord(b []byte) types.Record {
	return types.Record{
		Time:  byteOrder.Uint32(b[0:4]),
		Value: math.Float32frombits(byteOrder.Uint32(b[4:8])),
	}
}

func appendRecord(b []byte, rec types.Record) []byte {
	b = byteOrder.AppendUint32(b, rec.Time)
	return byteOrder.AppendUint32(b, math.Float32bits(rec.Value))
}
