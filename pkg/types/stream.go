package types

import (
	"errors"
	"fmt"
	"strings"
)

// UUIDLength is the fixed size of a stream identifier in bytes.
const UUIDLength = 36

// ErrInvalidStreamID is returned for identifiers of the wrong size or ones
// that can not be used as a file name inside a partition directory.
var ErrInvalidStreamID = errors.New("invalid stream id")

// ValidateStreamID checks the only properties the store relies on: the id is
// exactly UUIDLength bytes and its bytes stay inside the partition directory
// when used to build a path.
func ValidateStreamID(id string) error {
	if len(id) != UUIDLength {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidStreamID, len(id), UUIDLength)
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return fmt.Errorf("%w: contains a path separator or NUL", ErrInvalidStreamID)
	}
	if id[0:2] == ".." || id[2:4] == ".." {
		return fmt.Errorf("%w: parent directory segment", ErrInvalidStreamID)
	}
	return nil
}
