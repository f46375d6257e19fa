package models

import (
	"fmt"
	"strings"
)

// MessageField names one of the queryable columns of a stored record. It is
// used as a sort key and as the column for distinct-value listing.
type MessageField int

const (
	FieldID MessageField = iota
	FieldRole
	FieldLabel
	FieldFile
	FieldFunction
	FieldTime
	FieldProcessID
	FieldThreadID
	FieldLine
	FieldLevel
)

var fieldColumns = [...]string{
	FieldID:        "id",
	FieldRole:      "role",
	FieldLabel:     "label",
	FieldFile:      "file",
	FieldFunction:  "function",
	FieldTime:      "time",
	FieldProcessID: "process_id",
	FieldThreadID:  "thread_id",
	FieldLine:      "line",
	FieldLevel:     "level",
}

// AllFields lists every MessageField in declaration order.
func AllFields() []MessageField {
	out := make([]MessageField, len(fieldColumns))
	for i := range fieldColumns {
		out[i] = MessageField(i)
	}
	return out
}

func (f MessageField) Valid() bool {
	return f >= 0 && int(f) < len(fieldColumns)
}

// Column returns the storage column name. It panics on an invalid field.
func (f MessageField) Column() string {
	if !f.Valid() {
		panic(fmt.Sprintf("models: invalid MessageField %d", int(f)))
	}
	return fieldColumns[f]
}

// IsText reports whether the column holds strings.
func (f MessageField) IsText() bool {
	switch f {
	case FieldRole, FieldLabel, FieldFile, FieldFunction:
		return true
	}
	return false
}

// IsUnsigned reports whether the column holds values that are unsigned
// 64-bit on the wire.
func (f MessageField) IsUnsigned() bool {
	switch f {
	case FieldID, FieldTime, FieldProcessID, FieldThreadID:
		return true
	}
	return false
}

func (f MessageField) String() string {
	if !f.Valid() {
		return fmt.Sprintf("MessageField(%d)", int(f))
	}
	return fieldColumns[f]
}

// ParseMessageField accepts column names ("process_id") as well as
// CamelCase names ("ProcessId"), case-insensitively.
func ParseMessageField(s string) (MessageField, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for i, col := range fieldColumns {
		if key == strings.ReplaceAll(col, "_", "") {
			return MessageField(i), nil
		}
	}
	return 0, fmt.Errorf("unknown message field %q", s)
}

func (f MessageField) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid message field %d", int(f))
	}
	return []byte(fieldColumns[f]), nil
}

func (f *MessageField) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageField(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// SortDirection orders query results.
type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

func (d SortDirection) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// SQL returns the keyword for an ORDER BY clause.
func (d SortDirection) SQL() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

func ParseSortDirection(s string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	}
	return Asc, fmt.Errorf("unknown sort direction %q", s)
}

func (d SortDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *SortDirection) UnmarshalText(text []byte) error {
	parsed, err := ParseSortDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
