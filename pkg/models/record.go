package models

import "time"

// Record is a single log/trace record as produced by a remote client.
// Label, File, Function and Line are nullable in storage; the wire format
// always carries them, so records decoded from the transport have values.
type Record struct {
	Role      string   `json:"role"`
	Label     string   `json:"label"`
	File      string   `json:"file"`
	Function  string   `json:"function"`
	Time      uint64   `json:"time"`
	ProcessID uint64   `json:"process_id"`
	ThreadID  uint64   `json:"thread_id"`
	Line      int32    `json:"line"`
	Level     int32    `json:"level"`
	Messages  []string `json:"messages"`
}

// StoredRecord is a Record after it was persisted. ID is assigned by the
// store on insert and never changes.
type StoredRecord struct {
	ID uint64 `json:"id"`
	Record
	CreatedAt time.Time `json:"created_at"`
}

// ConfigEntry is one row of the key/value configuration table.
type ConfigEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
