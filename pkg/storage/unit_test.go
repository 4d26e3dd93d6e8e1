package storage

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/pointstore/pkg/types"
)

func TestUnitName(t *testing.T) {
	assert.Equal(t, testUUID+"_001_012", unitName(testUUID, 1, 12, 0))
	assert.Equal(t, testUUID+"_035_035_2", unitName(testUUID, 35, 35, 2))
	assert.Equal(t, testUUID+"_366_366", unitName(testUUID, 366, 366, 0))
}

func TestParseUnitName(t *testing.T) {
	testCases := []struct {
		name     string
		file     string
		start    int
		end      int
		index    int
		wantFail bool
	}{
		{"plain", testUUID + "_001_012", 1, 12, 0, false},
		{"indexed", testUUID + "_001_001_3", 1, 1, 3, false},
		{"leap day", testUUID + "_366_366", 366, 366, 0, false},
		{"other stream", "00000000-0000-0000-0000-000000000000_001_001", 0, 0, 0, true},
		{"short day", testUUID + "_1_12", 0, 0, 0, true},
		{"zero day", testUUID + "_000_001", 0, 0, 0, true},
		{"day out of range", testUUID + "_367_367", 0, 0, 0, true},
		{"zero index", testUUID + "_001_001_0", 0, 0, 0, true},
		{"bad index", testUUID + "_001_001_x", 0, 0, 0, true},
		{"too many parts", testUUID + "_001_001_1_1", 0, 0, 0, true},
		{"no days", testUUID, 0, 0, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, index, err := parseUnitName(tc.file, testUUID)
			if tc.wantFail {
				assert.ErrorIs(t, err, ErrInvalidUnitName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
			assert.Equal(t, tc.index, index)
		})
	}
}

func TestUnitCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t, 30, est)

	u, err := s.SelectForWrite(testUUID, 100201)
	require.NoError(t, err)
	require.NoError(t, u.Append(types.Record{Time: 100201, Value: 0.5}))
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())

	u, err = s.SelectForWrite(testUUID, 1000201)
	require.NoError(t, err)
	assert.Equal(t, 1, u.StartDay())
	assert.Equal(t, 1, u.EndDay())

	require.NoError(t, u.Append(types.Record{Time: 1000201, Value: 1.5}))
	require.NoError(t, u.Close())
	assert.Equal(t, 12, u.EndDay())
	assert.Contains(t, u.Path(), testUUID+"_001_012")

	// Nothing was opened since, so nothing moves.
	require.NoError(t, u.Close())
	assert.Equal(t, []string{testUUID + "_001_012"}, unitNames(t, s, 1970))
}

func TestUnitCloseWithoutChangeKeepsName(t *testing.T) {
	s := newTestStore(t, 30, est)
	require.NoError(t, s.Put(testUUID, types.Record{Time: 100201, Value: 0.5}))

	units, err := s.SelectForRead(testUUID, types.TimeRange{Start: 100000, End: 100300})
	require.NoError(t, err)
	require.Len(t, units, 1)

	u := units[0]
	start, end, err := u.Header()
	require.NoError(t, err)
	assert.Equal(t, uint32(100201), start)
	assert.Equal(t, uint32(100201), end)

	records, err := u.Records()
	require.NoError(t, err)
	assert.Equal(t, []types.Record{{Time: 100201, Value: 0.5}}, records)

	require.NoError(t, u.Close())
	assert.Equal(t, 0, u.Index())
	assert.Equal(t, []string{testUUID + "_001_001"}, unitNames(t, s, 1970))
}

func TestUnitCloseWithoutOpenDoesNothing(t *testing.T) {
	s := newTestStore(t, 30, est)

	u := s.newUnit(testUUID, 1970, unitFile(s, 1970, "_001_001"), 1, 1, 0)
	assert.NoError(t, u.Close())
	assert.Nil(t, unitNames(t, s, 1970))
}

func TestFailedCreateLeavesNoUnit(t *testing.T) {
	s := newTestStore(t, 30, est)

	errDiskFull := errors.New("disk full")
	orig := writeUnit
	writeUnit = func(f *os.File, b []byte) (int, error) {
		n, _ := f.WriteAt(b[:3], 0)
		return n, errDiskFull
	}
	err := s.Put(testUUID, types.Record{Time: 100201, Value: 0.5})
	writeUnit = orig
	require.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, unitNames(t, s, 1970))

	// The name is free again and the partition stays usable.
	require.NoError(t, s.Put(testUUID, types.Record{Time: 100201, Value: 0.5}))
	require.NoError(t, s.Put(testUUID, types.Record{Time: 100202, Value: 1.5}))
	got, err := s.Get(testUUID, types.TimeRange{Start: 100000, End: 100300})
	require.NoError(t, err)
	assert.Equal(t, []types.Record{{Time: 100201, Value: 0.5}, {Time: 100202, Value: 1.5}}, got)
}
