package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Config configures storage.
//
// Driver values: "memory" (default), "badger", "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one dispatch. Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	FamilyID  string
	Intent    string
	Addressee string
	Kind      string
	Matched   int
	Connected int
	Notified  int
	Failed    int
	TookMS    int64
}
