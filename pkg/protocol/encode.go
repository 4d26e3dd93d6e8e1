package protocol

import (
	"fmt"
	"io"
	"math"

	"github.com/vjranagit/pointstore/pkg/types"
)

// unknownResponse is the reply to a request of an unrecognized type: the bit
// pattern of -1 as a u32.
const unknownResponse uint32 = math.MaxUint32

// EncodeGet builds a GET request for the inclusive range tr.
func EncodeGet(uuid string, tr types.TimeRange) ([]byte, error) {
	return encodeHeader(uint32(TypeGet), uuid, 0, tr.Start, tr.End)
}

// EncodePut builds a PUT request. A single record travels in the header,
// more records follow it.
func EncodePut(uuid string, records []types.Record) ([]byte, error) {
	switch len(records) {
	case 0:
		return nil, fmt.Errorf("%w: put needs at least one record", ErrInvalidRecordCount)
	case 1:
		return encodeHeader(uint32(TypePut), uuid, 1, records[0].Time, math.Float32bits(records[0].Value))
	}

	b, err := encodeHeader(uint32(TypePut), uuid, uint32(len(records)), 0, 0)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		b = appendRecord(b, rec)
	}
	return b, nil
}

// EncodeUnknown builds a header-only request with an arbitrary type value.
func EncodeUnknown(typ uint32, uuid string) ([]byte, error) {
	return encodeHeader(typ, uuid, 0, 0, 0)
}

func encodeHeader(typ uint32, uuid string, count, first, second uint32) ([]byte, error) {
	if len(uuid) != types.UUIDLength {
		return nil, fmt.Errorf("%w: length %d, want %d", types.ErrInvalidStreamID, len(uuid), types.UUIDLength)
	}
	b := make([]byte, 0, HeaderSize)
	b = byteOrder.AppendUint32(b, typ)
	b = append(b, uuid...)
	b = byteOrder.AppendUint32(b, 0)
	b = byteOrder.AppendUint32(b, count)
	b = byteOrder.AppendUint32(b, first)
	b = byteOrder.AppendUint32(b, second)
	return b, nil
}

// EncodeGetResponse builds the reply to a GET: the record count followed by
// the records.
func EncodeGetResponse(records []types.Record) []byte {
	b := make([]byte, 0, fieldSize+RecordSize*len(records))
	b = byteOrder.AppendUint32(b, uint32(len(records)))
	for _, rec := range records {
		b = appendRecord(b, rec)
	}
	return b
}

// EncodeCountResponse builds the reply to a PUT.
func EncodeCountResponse(count uint32) []byte {
	return byteOrder.AppendUint32(nil, count)
}

// UnknownResponse builds the reply to a request of an unrecognized type.
func UnknownResponse() []byte {
	return byteOrder.AppendUint32(nil, unknownResponse)
}

// IsUnknownResponse reports whether a count read from a reply is the
// unknown request marker.
func IsUnknownResponse(count uint32) bool {
	return count == unknownResponse
}

// ReadCount reads a u32 reply.
func ReadCount(r io.Reader) (uint32, error) {
	var b [fieldSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	return byteOrder.Uint32(b[:]), nil
}

// ReadRecords reads the reply to a GET.
func ReadRecords(r io.Reader) ([]types.Record, error) {
	count, err := ReadCount(r)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, min(count, 4096))
	var b [RecordSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, fmt.Errorf("read record %d of %d: %w", i, count, err)
		}
		records = append(records, decodeRecord(b[:]))
	}
	return records, nil
}
