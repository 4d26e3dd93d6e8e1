package protocol

import "errors"

var (
	// ErrNotAvailable is returned by accessors when not enough bytes have
	// been received to read the field yet.
	ErrNotAvailable = errors.New("field not yet available")

	// ErrWrongType is returned by accessors for fields that do not apply to
	// the request type.
	ErrWrongType = errors.New("field not applicable to request type")

	// ErrIncomplete is returned when decoding a request before the whole
	// frame has arrived.
	ErrIncomplete = errors.New("request incomplete")

	// ErrInvalidRecordCount is returned for PUT requests declaring no records.
	ErrInvalidRecordCount = errors.New("invalid record count")

	// ErrFrameTooLarge is returned for PUT requests declaring more records
	// than the connection accepts.
	ErrFrameTooLarge = errors.New("frame too large")
)

// IsProtocolError reports whether err means the peer sent a frame that can
// not be served. The connection must be closed without a response.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrNotAvailable) ||
		errors.Is(err, ErrWrongType) ||
		errors.Is(err, ErrIncomplete) ||
		errors.Is(err, ErrInvalidRecordCount) ||
		errors.Is(err, ErrFrameTooLarge)
}
