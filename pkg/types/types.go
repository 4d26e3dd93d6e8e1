package types

import "sort"

// Record represents a single sample of a stream: seconds since the epoch and
// the value observed at that time.
type Record struct {
	Time  uint32  `json:"time"`
	Value float32 `json:"value"`
}

// Less orders records by time only.
func (r Record) Less(other Record) bool {
	return r.Time < other.Time
}

// Equal reports whether both the time and the value match.
func (r Record) Equal(other Record) bool {
	return r.Time == other.Time && r.Value == other.Value
}

// TimeRange is an inclusive range of seconds since the epoch.
type TimeRange struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}

// Contains reports whether t lies within the range, bounds included.
func (tr TimeRange) Contains(t uint32) bool {
	return tr.Start <= t && t <= tr.End
}

// Empty reports whether the range can not contain any time.
func (tr TimeRange) Empty() bool {
	return tr.Start > tr.End
}

// SortRecords sorts records ascending by time. Records sharing a time keep
// their relative order.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Less(records[j])
	})
}
