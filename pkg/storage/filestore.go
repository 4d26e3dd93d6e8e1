// Package storage implements the on-disk engine of the point store.
//
// Records are sharded into units by stream id and calendar year:
//
//	root/{year}/{uuid[0:2]}/{uuid[2:4]}/{uuid}_{start_day}_{end_day}[_{index}]
//
// Each unit starts with an 8 byte header holding the true first and last
// record time, followed by 8 byte records in append order. A unit never
// spans more than the configured number of days.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/internal/metrics"
	"github.com/vjranagit/pointstore/pkg/types"
)

// DefaultMaxDaysPerFile is the day span a unit may cover when the
// configuration does not say otherwise.
const DefaultMaxDaysPerFile = 30

// maxScanAttempts bounds how often a partition is listed again when a unit
// disappears between listing and reading it.
const maxScanAttempts = 3

// Config holds storage configuration. It is read-only once the store is
// created.
type Config struct {
	DataDirectory  string
	MaxDaysPerFile int

	// Location is the time zone used to derive years and days of year.
	Location *time.Location
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		DataDirectory:  "./data",
		MaxDaysPerFile: DefaultMaxDaysPerFile,
		Location:       time.UTC,
	}
}

// FileStore maps samples of a stream to the units that store them.
type FileStore struct {
	cfg     Config
	locks   *partitionLocks
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures optional FileStore collaborators.
type Option func(*FileStore)

// WithLogger sets the logger used by the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) { s.log = l }
}

// WithMetrics sets the collectors updated by the store.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FileStore) { s.metrics = m }
}

// NewFileStore creates a store rooted at cfg.DataDirectory, creating the
// directory if needed.
func NewFileStore(cfg *Config, opts ...Option) (*FileStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DataDirectory == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.MaxDaysPerFile < 1 {
		return nil, fmt.Errorf("max days per file must be at least 1, got %d", cfg.MaxDaysPerFile)
	}

	s := &FileStore{
		cfg:   *cfg,
		locks: newPartitionLocks(),
		log:   logging.Component("storage"),
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.UTC
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.cfg.DataDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return s, nil
}

// Config returns the configuration the store runs with.
func (s *FileStore) Config() Config {
	return s.cfg
}

// Put stores one record for the stream: it selects or creates the unit that
// can absorb the record, appends it and closes the unit.
func (s *FileStore) Put(uuid string, rec types.Record) error {
	if err := types.ValidateStreamID(uuid); err != nil {
		return err
	}

	year, _ := s.calendar(rec.Time)
	unlock := s.locks.lock(partitionKey{uuid: uuid, year: year})
	defer unlock()

	u, err := s.SelectForWrite(uuid, rec.Time)
	if err != nil {
		return err
	}
	if err := u.Append(rec); err != nil {
		u.release()
		return err
	}
	return u.Close()
}

// Get returns every record of the stream within tr, sorted by time. Records
// sharing a time keep unit enumeration order, then append order.
func (s *FileStore) Get(uuid string, tr types.TimeRange) ([]types.Record, error) {
	if err := types.ValidateStreamID(uuid); err != nil {
		return nil, err
	}
	if tr.Empty() {
		return nil, nil
	}

	var records []types.Record
	from, to := s.yearSpan(tr)
	for year := from; year <= to; year++ {
		found, err := s.getYear(uuid, year, tr)
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}

	types.SortRecords(records)
	return records, nil
}

func (s *FileStore) getYear(uuid string, year int, tr types.TimeRange) ([]types.Record, error) {
	unlock := s.locks.lock(partitionKey{uuid: uuid, year: year})
	defer unlock()

	units, err := s.selectForReadInYear(uuid, year, tr)
	if err != nil {
		return nil, err
	}

	var records []types.Record
	for i, u := range units {
		found, err := u.Records()
		if err != nil {
			releaseAll(units[i:])
			return nil, err
		}
		for _, rec := range found {
			if tr.Contains(rec.Time) {
				records = append(records, rec)
			}
		}
		if err := u.Close(); err != nil {
			releaseAll(units[i+1:])
			return nil, err
		}
	}
	return records, nil
}

// SelectForWrite returns the unit that should receive a record at time t:
// the first unit of the partition, in start day then name order, that can
// absorb it, or a new unit covering only the day of t.
//
// Callers must hold the partition; Put does this.
func (s *FileStore) SelectForWrite(uuid string, t uint32) (*Unit, error) {
	year, day := s.calendar(t)

	var selected *Unit
	err := s.scan(func() error {
		units, err := s.listUnits(uuid, year)
		if err != nil {
			return err
		}
		for i, u := range units {
			ok, err := s.canAbsorb(u, t, day)
			if err != nil {
				releaseAll(units[i:])
				return err
			}
			if ok {
				releaseAll(units[i+1:])
				selected = u
				return nil
			}
			u.release()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if selected != nil {
		return selected, nil
	}

	path, err := s.generatePath(uuid, year, day, day)
	if err != nil {
		return nil, err
	}
	_, _, index, _ := parseUnitName(filepath.Base(path), uuid)
	return s.newUnit(uuid, year, path, day, day, index), nil
}

// SelectForRead returns the units that may hold records of the stream
// within tr, ordered by year, start day and name. Units may still contain
// no record inside tr; callers filter by exact time.
//
// Callers must hold every partition of the range.
func (s *FileStore) SelectForRead(uuid string, tr types.TimeRange) ([]*Unit, error) {
	if tr.Empty() {
		return nil, nil
	}

	var selected []*Unit
	from, to := s.yearSpan(tr)
	for year := from; year <= to; year++ {
		units, err := s.selectForReadInYear(uuid, year, tr)
		if err != nil {
			releaseAll(selected)
			return nil, err
		}
		selected = append(selected, units...)
	}
	return selected, nil
}

func (s *FileStore) selectForReadInYear(uuid string, year int, tr types.TimeRange) ([]*Unit, error) {
	// Day comparisons are only meaningful within one year.
	window := s.clampToYear(tr, year)
	_, beginDay := s.calendar(window.Start)
	_, endDay := s.calendar(window.End)

	var selected []*Unit
	err := s.scan(func() error {
		selected = nil
		units, err := s.listUnits(uuid, year)
		if err != nil {
			return err
		}
		for i, u := range units {
			ok, err := overlaps(u, window, beginDay, endDay)
			if err != nil {
				releaseAll(selected)
				releaseAll(units[i:])
				selected = nil
				return err
			}
			if ok {
				selected = append(selected, u)
			} else {
				u.release()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// canAbsorb reports whether a record at time t, falling on day, may be
// appended to u without going back in time or stretching u past the
// maximum day span.
func (s *FileStore) canAbsorb(u *Unit, t uint32, day int) (bool, error) {
	if u.endDay > day {
		return false, nil
	}
	if u.endDay == day {
		_, end, err := u.Header()
		if err != nil {
			return false, err
		}
		if end > t {
			return false, nil
		}
	}
	return day-u.startDay <= s.cfg.MaxDaysPerFile, nil
}

// overlaps filters units by day range, checking the header times only on
// the two boundary days.
func overlaps(u *Unit, window types.TimeRange, beginDay, endDay int) (bool, error) {
	if u.startDay > endDay || u.endDay < beginDay {
		return false, nil
	}
	if u.startDay != beginDay && u.endDay != endDay {
		return true, nil
	}

	start, end, err := u.Header()
	if err != nil {
		return false, err
	}
	if u.startDay == beginDay && start > window.End {
		return false, nil
	}
	if u.endDay == endDay && end < window.Start {
		return false, nil
	}
	return true, nil
}

// listUnits returns the units of a partition sorted by nominal start day,
// then name. Files not following the naming scheme are ignored.
func (s *FileStore) listUnits(uuid string, year int) ([]*Unit, error) {
	dir := s.partitionDir(uuid, year)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partition %s: %w", dir, err)
	}

	var units []*Unit
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		startDay, endDay, index, err := parseUnitName(entry.Name(), uuid)
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		units = append(units, s.newUnit(uuid, year, path, startDay, endDay, index))
	}

	sort.SliceStable(units, func(i, j int) bool {
		if units[i].startDay != units[j].startDay {
			return units[i].startDay < units[j].startDay
		}
		return filepath.Base(units[i].path) < filepath.Base(units[j].path)
	})
	return units, nil
}

// scan runs a partition scan, repeating it when a listed unit vanished
// before it could be opened.
func (s *FileStore) scan(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxScanAttempts; attempt++ {
		if err = fn(); !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		s.log.Debug("unit vanished during scan, listing again", "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("%w: %w", ErrPartitionChanged, err)
}

func (s *FileStore) newUnit(uuid string, year int, path string, startDay, endDay, index int) *Unit {
	return &Unit{
		store:    s,
		uuid:     uuid,
		year:     year,
		path:     path,
		startDay: startDay,
		endDay:   endDay,
		index:    index,
	}
}

// generatePath returns a free path for a unit of the stream covering the
// given days, appending an increasing index when the name is taken.
func (s *FileStore) generatePath(uuid string, year, startDay, endDay int) (string, error) {
	base := filepath.Join(s.partitionDir(uuid, year), unitName(uuid, startDay, endDay, 0))
	path := base
	for index := 1; ; index++ {
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("generate unit path: %w", err)
		}
		path = base + "_" + strconv.Itoa(index)
	}
}

func (s *FileStore) partitionDir(uuid string, year int) string {
	return filepath.Join(s.cfg.DataDirectory, strconv.Itoa(year), uuid[0:2], uuid[2:4])
}

// calendar returns the year and day of year of t.
func (s *FileStore) calendar(t uint32) (year, day int) {
	tm := time.Unix(int64(t), 0).In(s.cfg.Location)
	return tm.Year(), tm.YearDay()
}

func (s *FileStore) yearSpan(tr types.TimeRange) (from, to int) {
	from, _ = s.calendar(tr.Start)
	to, _ = s.calendar(tr.End)
	return from, to
}

// clampToYear narrows tr to the seconds that fall inside year.
func (s *FileStore) clampToYear(tr types.TimeRange, year int) types.TimeRange {
	first := time.Date(year, time.January, 1, 0, 0, 0, 0, s.cfg.Location).Unix()
	last := time.Date(year+1, time.January, 1, 0, 0, 0, 0, s.cfg.Location).Unix() - 1

	return types.TimeRange{
		Start: max(tr.Start, clampUint32(first)),
		End:   min(tr.End, clampUint32(last)),
	}
}

func clampUint32(v int64) uint32 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(v)
	}
}

func releaseAll(units []*Unit) {
	for _, u := range units {
		u.release()
	}
}
