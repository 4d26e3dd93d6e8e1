package storage

import (
	"math"
	"testing"

	"github.com/vjranagit/pointstore/pkg/types"
)

func TestCompressTimestamps(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Regular one minute intervals
	timestamps := make([]uint32, 100)
	for i := range timestamps {
		timestamps[i] = 1700000000 + uint32(i*60)
	}

	compressed, err := comp.CompressTimestamps(timestamps)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	originalSize := len(timestamps) * 4
	if len(compressed) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, compressed=%d",
			originalSize, len(compressed))
	}

	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	for i := range timestamps {
		if timestamps[i] != decompressed[i] {
			t.Errorf("Timestamp mismatch at %d: expected %d, got %d",
				i, timestamps[i], decompressed[i])
		}
	}
}

func TestCompressTimestampsOutOfOrder(t *testing.T) {
	comp, err := NewCompressor(1)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	timestamps := []uint32{100203, 100201, math.MaxUint32, 0, 100202}

	compressed, err := comp.CompressTimestamps(timestamps)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}
	decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	for i := range timestamps {
		if timestamps[i] != decompressed[i] {
			t.Errorf("Timestamp mismatch at %d: expected %d, got %d",
				i, timestamps[i], decompressed[i])
		}
	}
}

func TestCompressValues(t *testing.T) {
	comp, err := NewCompressor(2)
	if err != nil {
		t.Fatalf("Failed to create compressor: %v", err)
	}
	defer comp.Close()

	// Small variations, common in metrics
	values := make([]float32, 100)
	for i := range values {
		values[i] = 100 + float32(math.Sin(float64(i)*0.1))*10
	}

	compressed, err := comp.CompressValues(values)
	if err != nil {
		t.Fatalf("Compression failed: %v", err)
	}

	decompressed, err := comp.DecompressValues(compressed, len(values))
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}

	for i := range values {
		if values[i] != decompressed[i] {
			t.Errorf("Value mismatch at %d: expected %f, got %f",
				i, values[i], decompressed[i])
		}
	}
}

func TestCompressRecordsLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	records := []types.Record{
		{Time: 100201, Value: 0.5},
		{Time: 1000202, Value: 1.5},
		{Time: 1000202, Value: float32(math.Inf(-1))},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			comp, err := NewCompressor(tc.level)
			if err != nil {
				t.Fatalf("Failed to create compressor at level %d: %v", tc.level, err)
			}
			defer comp.Close()

			ts, vs, err := comp.CompressRecords(records)
			if err != nil {
				t.Fatalf("Compression failed: %v", err)
			}

			decompressed, err := comp.DecompressRecords(ts, vs, len(records))
			if err != nil {
				t.Fatalf("Decompression failed: %v", err)
			}

			for i := range records {
				if !records[i].Equal(decompressed[i]) {
					t.Errorf("Mismatch at index %d: expected %+v, got %+v", i, records[i], decompressed[i])
				}
			}
		})
	}
}

func BenchmarkCompressRecords(b *testing.B) {
	comp, _ := NewCompressor(2)
	defer comp.Close()

	records := make([]types.Record, 1000)
	for i := range records {
		records[i] = types.Record{
			Time:  1700000000 + uint32(i*60),
			Value: 100 + float32(math.Sin(float64(i)*0.1))*10,
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = comp.CompressRecords(records)
	}
}
