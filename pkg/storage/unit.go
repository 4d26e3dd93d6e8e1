package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vjranagit/pointstore/pkg/types"
)

const (
	// headerSize is the size of the unit header: u32 start time, u32 end
	// time.
	headerSize = 8

	// recordSize is the size of one record on disk: u32 time, f32 value.
	recordSize = 8

	endTimeOffset = 4
)

var byteOrder = binary.LittleEndian

// Unit is one storage file holding a run of records of a single stream
// within a single year. Its name carries the nominal day range, its header
// the true time range. The two are reconciled by Close.
//
// A Unit is not safe for concurrent use; callers serialize access per
// partition.
type Unit struct {
	store *FileStore

	uuid     string
	year     int
	path     string
	startDay int
	endDay   int
	index    int

	file         *os.File
	headerLoaded bool
	startTime    uint32
	endTime      uint32
}

// Path returns the current location of the unit.
func (u *Unit) Path() string { return u.path }

// Year returns the calendar year the unit was created for.
func (u *Unit) Year() int { return u.year }

// StartDay returns the first day of year encoded in the unit name.
func (u *Unit) StartDay() int { return u.startDay }

// EndDay returns the last day of year encoded in the unit name.
func (u *Unit) EndDay() int { return u.endDay }

// Index returns the collision suffix of the unit name, zero if none.
func (u *Unit) Index() int { return u.index }

// Header returns the true time range stored in the unit header.
func (u *Unit) Header() (start, end uint32, err error) {
	if u.headerLoaded {
		return u.startTime, u.endTime, nil
	}
	if err := u.open(); err != nil {
		return 0, 0, err
	}

	var b [headerSize]byte
	if _, err := u.file.ReadAt(b[:], 0); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, 0, fmt.Errorf("%w: %s: short header", ErrCorruptUnit, u.path)
		}
		return 0, 0, fmt.Errorf("read header %s: %w", u.path, err)
	}

	u.startTime = byteOrder.Uint32(b[0:4])
	u.endTime = byteOrder.Uint32(b[4:8])
	u.headerLoaded = true
	return u.startTime, u.endTime, nil
}

// Append stores rec at the end of the unit. A unit that does not exist on
// disk yet is created with a header covering only rec; otherwise only the
// header end time is rewritten.
func (u *Unit) Append(rec types.Record) error {
	exists, err := u.exists()
	if err != nil {
		return err
	}
	if !exists {
		return u.create(rec)
	}

	if err := u.open(); err != nil {
		return err
	}

	info, err := u.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", u.path, err)
	}
	if info.Size() < headerSize {
		return fmt.Errorf("%w: %s: %d bytes", ErrCorruptUnit, u.path, info.Size())
	}

	var end [4]byte
	byteOrder.PutUint32(end[:], rec.Time)
	if _, err := u.file.WriteAt(end[:], endTimeOffset); err != nil {
		return fmt.Errorf("write header %s: %w", u.path, err)
	}

	// A torn record left by an interrupted append is overwritten.
	offset := headerSize + (info.Size()-headerSize)/recordSize*recordSize
	if _, err := u.file.WriteAt(encodeRecord(nil, rec), offset); err != nil {
		return fmt.Errorf("append record %s: %w", u.path, err)
	}

	if u.headerLoaded {
		u.endTime = rec.Time
	}
	return nil
}

// writeUnit writes the first header and record of a new unit.
var writeUnit = func(f *os.File, b []byte) (int, error) {
	return f.WriteAt(b, 0)
}

func (u *Unit) create(rec types.Record) error {
	if err := os.MkdirAll(filepath.Dir(u.path), 0755); err != nil {
		return fmt.Errorf("create partition directory: %w", err)
	}

	f, err := os.OpenFile(u.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}

	b := make([]byte, 0, headerSize+recordSize)
	b = byteOrder.AppendUint32(b, rec.Time)
	b = byteOrder.AppendUint32(b, rec.Time)
	b = encodeRecord(b, rec)
	if _, err := writeUnit(f, b); err != nil {
		// A partial header would make the name unusable for the partition.
		f.Close()
		if rmErr := os.Remove(u.path); rmErr != nil {
			u.store.log.Error("remove partial unit", "path", u.path, "error", rmErr)
		}
		return fmt.Errorf("write unit %s: %w", u.path, err)
	}
	u.file = f

	u.startTime = rec.Time
	u.endTime = rec.Time
	u.headerLoaded = true

	u.store.metrics.UnitCreated()
	u.store.log.Debug("unit created", "path", u.path)
	return nil
}

// Records returns every record of the unit in append order. A trailing
// partial record is ignored.
func (u *Unit) Records() ([]types.Record, error) {
	if err := u.open(); err != nil {
		return nil, err
	}

	info, err := u.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", u.path, err)
	}
	if info.Size() < headerSize {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrCorruptUnit, u.path, info.Size())
	}

	body := make([]byte, (info.Size()-headerSize)/recordSize*recordSize)
	if _, err := u.file.ReadAt(body, headerSize); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read records %s: %w", u.path, err)
	}

	records := make([]types.Record, len(body)/recordSize)
	for i := range records {
		b := body[i*recordSize:]
		records[i] = types.Record{
			Time:  byteOrder.Uint32(b[0:4]),
			Value: math.Float32frombits(byteOrder.Uint32(b[4:8])),
		}
	}
	return records, nil
}

// Close releases the file and, if the unit was opened, renames it so its
// nominal day range matches the true range in its header. Closing a unit
// that was not opened since the last Close does nothing.
func (u *Unit) Close() error {
	if u.file == nil {
		return nil
	}

	start, end, err := u.Header()
	if err != nil {
		u.release()
		return err
	}
	if err := u.release(); err != nil {
		return err
	}

	_, startDay := u.store.calendar(start)
	_, endDay := u.store.calendar(end)
	if startDay == u.startDay && endDay == u.endDay {
		return nil
	}

	path, err := u.store.generatePath(u.uuid, u.year, startDay, endDay)
	if err != nil {
		return err
	}
	if err := os.Rename(u.path, path); err != nil {
		return fmt.Errorf("rename unit: %w", err)
	}

	u.store.metrics.UnitRenamed()
	u.store.log.Debug("unit renamed", "from", u.path, "to", path)

	_, _, index, _ := parseUnitName(filepath.Base(path), u.uuid)
	u.path = path
	u.startDay = startDay
	u.endDay = endDay
	u.index = index
	return nil
}

// release closes the file handle without reconciling the name.
func (u *Unit) release() error {
	if u.file == nil {
		return nil
	}
	err := u.file.Close()
	u.file = nil
	u.headerLoaded = false
	if err != nil {
		return fmt.Errorf("close %s: %w", u.path, err)
	}
	return nil
}

func (u *Unit) open() error {
	if u.file != nil {
		return nil
	}
	f, err := os.OpenFile(u.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open unit: %w", err)
	}
	u.file = f
	return nil
}

func (u *Unit) exists() (bool, error) {
	if u.file != nil {
		return true, nil
	}
	_, err := os.Stat(u.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat unit: %w", err)
	}
}

func encodeRecord(b []byte, rec types.Record) []byte {
	b = byteOrder.AppendUint32(b, rec.Time)
	return byteOrder.AppendUint32(b, math.Float32bits(rec.Value))
}

// unitName builds {uuid}_{start:03d}_{end:03d}[_{index}].
func unitName(uuid string, startDay, endDay, index int) string {
	name := fmt.Sprintf("%s_%03d_%03d", uuid, startDay, endDay)
	if index > 0 {
		name += "_" + strconv.Itoa(index)
	}
	return name
}

// parseUnitName extracts the nominal day range and collision index from the
// file name of a unit of the given stream.
func parseUnitName(name, uuid string) (startDay, endDay, index int, err error) {
	rest, ok := strings.CutPrefix(name, uuid+"_")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidUnitName, name)
	}

	parts := strings.Split(rest, "_")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidUnitName, name)
	}

	if startDay, err = parseDay(parts[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidUnitName, name)
	}
	if endDay, err = parseDay(parts[1]); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidUnitName, name)
	}
	if len(parts) == 3 {
		index, err = strconv.Atoi(parts[2])
		if err != nil || index < 1 {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidUnitName, name)
		}
	}
	return startDay, endDay, index, nil
}

func parseDay(s string) (int, error) {
	if len(s) != 3 {
		return 0, ErrInvalidUnitName
	}
	day, err := strconv.Atoi(s)
	if err != nil || day < 1 || day > 366 {
		return 0, ErrInvalidUnitName
	}
	return day, nil
}
