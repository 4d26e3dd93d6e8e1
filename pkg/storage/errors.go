package storage

import "errors"

var (
	// ErrCorruptUnit is returned when a unit file is too short to hold its
	// header.
	ErrCorruptUnit = errors.New("corrupt storage unit")

	// ErrInvalidUnitName is returned for file names that do not follow the
	// {uuid}_{start}_{end}[_{index}] scheme.
	ErrInvalidUnitName = errors.New("invalid unit name")

	// ErrPartitionChanged is returned when units kept disappearing while a
	// partition was being scanned.
	ErrPartitionChanged = errors.New("partition changed during scan")
)
