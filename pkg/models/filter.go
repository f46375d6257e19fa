package models

import (
	"fmt"
	"strings"
)

// PatternMode selects how a StringPattern compares against a column.
type PatternMode int

const (
	PatternEqual PatternMode = iota
	PatternContain
	PatternStart
	PatternEnd
)

var patternModeNames = [...]string{"equal", "contain", "start", "end"}

func (m PatternMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("PatternMode(%d)", int(m))
	}
	return patternModeNames[m]
}

// Valid reports whether m is one of the defined modes.
func (m PatternMode) Valid() bool {
	return m >= PatternEqual && m <= PatternEnd
}

func (m PatternMode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid pattern mode %d", int(m))
	}
	return []byte(patternModeNames[m]), nil
}

func (m *PatternMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "equal", "eq", "equals":
		*m = PatternEqual
	case "contain", "contains":
		*m = PatternContain
	case "start", "starts_with", "prefix":
		*m = PatternStart
	case "end", "ends_with", "suffix":
		*m = PatternEnd
	default:
		return fmt.Errorf("unknown pattern mode %q", string(text))
	}
	return nil
}

// StringPattern constrains a text column.
type StringPattern struct {
	Mode  PatternMode `json:"mode"`
	Value string      `json:"value"`
}

// NumberRange constrains a numeric column. Min and Max are inclusive and
// independently optional; a range with neither bound adds no condition.
// On the unsigned fields (time, process_id, thread_id) each bound is the
// int64 bit pattern of a uint64 and compares in unsigned order; build such
// ranges with UnsignedRange.
type NumberRange struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// Empty reports whether the range has no bound at all.
func (r NumberRange) Empty() bool {
	return r.Min == nil && r.Max == nil
}

// FilterConfig is a set of optional per-field predicates combined with AND.
// A nil slot places no constraint on its field, so the zero FilterConfig
// matches every record. Deleting with a zero FilterConfig removes all rows.
type FilterConfig struct {
	Role     *StringPattern `json:"role,omitempty"`
	Label    *StringPattern `json:"label,omitempty"`
	File     *StringPattern `json:"file,omitempty"`
	Function *StringPattern `json:"function,omitempty"`
	Messages *StringPattern `json:"messages,omitempty"`

	Level     *NumberRange `json:"level,omitempty"`
	Time      *NumberRange `json:"time,omitempty"`
	ProcessID *NumberRange `json:"process_id,omitempty"`
	ThreadID  *NumberRange `json:"thread_id,omitempty"`
	Line      *NumberRange `json:"line,omitempty"`
}

// IsEmpty reports whether the filter contributes no condition.
func (f FilterConfig) IsEmpty() bool {
	return f.Role == nil && f.Label == nil && f.File == nil && f.Function == nil &&
		f.Messages == nil &&
		(f.Level == nil || f.Level.Empty()) &&
		(f.Time == nil || f.Time.Empty()) &&
		(f.ProcessID == nil || f.ProcessID.Empty()) &&
		(f.ThreadID == nil || f.ThreadID.Empty()) &&
		(f.Line == nil || f.Line.Empty())
}

// Pattern returns a StringPattern for use in a FilterConfig literal.
func Pattern(mode PatternMode, value string) *StringPattern {
	return &StringPattern{Mode: mode, Value: value}
}

// Range returns a NumberRange with both bounds set.
func Range(lo, hi int64) *NumberRange {
	return &NumberRange{Min: &lo, Max: &hi}
}

// AtLeast returns a NumberRange with only a lower bound.
func AtLeast(lo int64) *NumberRange {
	return &NumberRange{Min: &lo}
}

// AtMost returns a NumberRange with only an upper bound.
func AtMost(hi int64) *NumberRange {
	return &NumberRange{Max: &hi}
}

// UnsignedRange returns a NumberRange over an unsigned field. Either bound
// may be nil.
func UnsignedRange(lo, hi *uint64) *NumberRange {
	r := &NumberRange{}
	if lo != nil {
		v := int64(*lo)
		r.Min = &v
	}
	if hi != nil {
		v := int64(*hi)
		r.Max = &v
	}
	return r
}
