package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/vjranagit/pointstore/pkg/types"
)

// Compressor packs record batches for the PUT journal.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressTimestamps delta-of-delta encodes times as varints, then applies
// zstd. Batches are usually evenly spaced so most deltas of deltas are 0.
func (c *Compressor) CompressTimestamps(timestamps []uint32) ([]byte, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(timestamps)*2)
	buf = binary.LittleEndian.AppendUint32(buf, timestamps[0])

	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := int64(timestamps[i]) - int64(timestamps[i-1])
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressTimestamps reverses CompressTimestamps.
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("decompression failed: timestamp block too short")
	}

	timestamps := make([]uint32, count)
	timestamps[0] = binary.LittleEndian.Uint32(raw)
	raw = raw[4:]

	var prevDelta int64
	for i := 1; i < count; i++ {
		dod, n := binary.Varint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("decompression failed: truncated timestamp %d of %d", i, count)
		}
		raw = raw[n:]

		delta := dod + prevDelta
		timestamps[i] = uint32(int64(timestamps[i-1]) + delta)
		prevDelta = delta
	}

	return timestamps, nil
}

// CompressValues XOR encodes each value against its predecessor, then
// applies zstd.
func (c *Compressor) CompressValues(values []float32) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := make([]byte, 0, len(values)*4)
	var prevBits uint32
	for _, v := range values {
		bits := math.Float32bits(v)
		buf = binary.LittleEndian.AppendUint32(buf, bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf))), nil
}

// DecompressValues reverses CompressValues.
func (c *Compressor) DecompressValues(data []byte, count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	if len(raw) != count*4 {
		return nil, fmt.Errorf("decompression failed: %d value bytes for %d values", len(raw), count)
	}

	values := make([]float32, count)
	var prevBits uint32
	for i := range values {
		bits := binary.LittleEndian.Uint32(raw[i*4:]) ^ prevBits
		values[i] = math.Float32frombits(bits)
		prevBits = bits
	}

	return values, nil
}

// CompressRecords splits records into their time and value columns and
// compresses both.
func (c *Compressor) CompressRecords(records []types.Record) (timestamps, values []byte, err error) {
	ts := make([]uint32, len(records))
	vs := make([]float32, len(records))
	for i, rec := range records {
		ts[i] = rec.Time
		vs[i] = rec.Value
	}

	if timestamps, err = c.CompressTimestamps(ts); err != nil {
		return nil, nil, err
	}
	if values, err = c.CompressValues(vs); err != nil {
		return nil, nil, err
	}
	return timestamps, values, nil
}

// DecompressRecords reverses CompressRecords.
func (c *Compressor) DecompressRecords(timestamps, values []byte, count int) ([]types.Record, error) {
	ts, err := c.DecompressTimestamps(timestamps, count)
	if err != nil {
		return nil, err
	}
	vs, err := c.DecompressValues(values, count)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, count)
	for i := range records {
		records[i] = types.Record{Time: ts[i], Value: vs[i]}
	}
	return records, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
