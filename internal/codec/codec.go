// Package codec implements the binary wire format of a log record.
//
// Layout, all integers little-endian:
//
//	role, label, file, function   u64 length + UTF-8 bytes each
//	time, process_id, thread_id   u64
//	line, level                   i32
//	messages                      u64 count, then u64 length + UTF-8 bytes each
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/cespare/xxhash/v2"
)

// DefaultMaxPayloadSize bounds the size of a payload accepted by Decode.
const DefaultMaxPayloadSize = 16 << 20

const (
	lenSize    = 8
	fixedTail  = 3*8 + 2*4
	minPayload = 4*lenSize + fixedTail + lenSize
)

// Codec converts records to and from their wire form.
type Codec interface {
	Encode(rec *models.Record) ([]byte, error)
	Decode(data []byte) (*models.Record, error)
	Fingerprint(data []byte) uint64
}

// Binary is the native Codec. The zero value uses DefaultMaxPayloadSize.
type Binary struct {
	MaxPayloadSize int
}

var _ Codec = Binary{}

var std = Binary{}

// Encode encodes rec with the default codec.
func Encode(rec *models.Record) ([]byte, error) { return std.Encode(rec) }

// Decode decodes data with the default codec.
func Decode(data []byte) (*models.Record, error) { return std.Decode(data) }

// Fingerprint returns the xxHash64 of data.
func Fingerprint(data []byte) uint64 { return xxhash.Sum64(data) }

func (Binary) Fingerprint(data []byte) uint64 { return xxhash.Sum64(data) }

func (b Binary) maxSize() int {
	if b.MaxPayloadSize > 0 {
		return b.MaxPayloadSize
	}
	return DefaultMaxPayloadSize
}

// EncodedSize returns the number of bytes Encode produces for rec.
func EncodedSize(rec *models.Record) int {
	n := 4*lenSize + len(rec.Role) + len(rec.Label) + len(rec.File) + len(rec.Function)
	n += fixedTail + lenSize
	for _, m := range rec.Messages {
		n += lenSize + len(m)
	}
	return n
}

func (b Binary) Encode(rec *models.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidStringData)
	}
	fields := [...]struct{ name, value string }{
		{"role", rec.Role},
		{"label", rec.Label},
		{"file", rec.File},
		{"function", rec.Function},
	}
	for _, f := range fields {
		if strings.IndexByte(f.value, 0) >= 0 {
			return nil, fmt.Errorf("%w: %s contains a NUL byte", ErrInvalidStringData, f.name)
		}
	}
	for i, m := range rec.Messages {
		if strings.IndexByte(m, 0) >= 0 {
			return nil, fmt.Errorf("%w: message %d contains a NUL byte", ErrInvalidStringData, i)
		}
	}

	buf := make([]byte, 0, EncodedSize(rec))
	buf = appendString(buf, rec.Role)
	buf = appendString(buf, rec.Label)
	buf = appendString(buf, rec.File)
	buf = appendString(buf, rec.Function)
	buf = binary.LittleEndian.AppendUint64(buf, rec.Time)
	buf = binary.LittleEndian.AppendUint64(buf, rec.ProcessID)
	buf = binary.LittleEndian.AppendUint64(buf, rec.ThreadID)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.Line))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rec.Level))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(rec.Messages)))
	for _, m := range rec.Messages {
		buf = appendString(buf, m)
	}
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

func (b Binary) Decode(data []byte) (*models.Record, error) {
	if len(data) > b.maxSize() {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformedPayload, len(data), b.maxSize())
	}
	if len(data) < minPayload {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedPayload, len(data), minPayload)
	}

	r := reader{buf: data}
	rec := &models.Record{}
	rec.Role = r.string("role")
	rec.Label = r.string("label")
	rec.File = r.string("file")
	rec.Function = r.string("function")
	rec.Time = r.uint64("time")
	rec.ProcessID = r.uint64("process_id")
	rec.ThreadID = r.uint64("thread_id")
	rec.Line = int32(r.uint32("line"))
	rec.Level = int32(r.uint32("level"))

	count := r.uint64("message count")
	if r.err != nil {
		return nil, r.err
	}
	// Every message needs at least its length prefix.
	if count > uint64(r.remaining()/lenSize) {
		return nil, fmt.Errorf("%w: message count %d exceeds remaining %d bytes", ErrMalformedPayload, count, r.remaining())
	}
	rec.Messages = make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		rec.Messages = append(rec.Messages, r.string("message"))
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPayload, r.remaining())
	}
	return rec, nil
}

// reader walks a payload and records the first failure; later reads are
// no-ops once err is set.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) fail(field string, format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s at offset %d: %s", ErrMalformedPayload, field, r.off, fmt.Sprintf(format, args...))
	}
}

func (r *reader) take(field string, n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.remaining() {
		r.fail(field, "need %d bytes, have %d", n, r.remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint64(field string) uint64 {
	b := r.take(field, 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) uint32(field string) uint32 {
	b := r.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) string(field string) string {
	n := r.uint64(field + " length")
	if r.err != nil {
		return ""
	}
	if n > uint64(r.remaining()) {
		r.fail(field, "length %d exceeds remaining %d bytes", n, r.remaining())
		return ""
	}
	b := r.take(field, int(n))
	if !utf8.Valid(b) {
		r.fail(field, "invalid UTF-8")
		return ""
	}
	if bytes.IndexByte(b, 0) >= 0 {
		r.fail(field, "embedded NUL byte")
		return ""
	}
	return string(b)
}
