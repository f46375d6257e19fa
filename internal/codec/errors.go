package codec

import "errors"

var (
	// ErrMalformedPayload is returned by Decode when the bytes do not match
	// the record layout.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrInvalidStringData is returned by Encode when a string field holds
	// a NUL byte.
	ErrInvalidStringData = errors.New("invalid string data")
)
