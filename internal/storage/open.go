package storage

import (
	"context"
	"errors"
	"strings"

	"familyconnect/internal/family"
	logx "familyconnect/pkg/logx"
)

// Store is the persistence API used by the intent router, pairing and the
// device endpoints.
type Store interface {
	FamilyByAccount(ctx context.Context, accountID string) (family.Family, error)
	FamilyByCode(ctx context.Context, code string) (family.Family, error)
	// CreateFamily fails with ErrConflict if the account is already bound.
	CreateFamily(ctx context.Context, f family.Family) error
	CodeInUse(ctx context.Context, code string) (bool, error)

	Members(ctx context.Context, familyID string) ([]family.Member, error)
	Member(ctx context.Context, deviceID string) (family.Member, error)
	// AddMember fails with ErrConflict if the device id is already bound.
	AddMember(ctx context.Context, m family.Member) error
	DeviceExists(ctx context.Context, deviceID string) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		return openBadger(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
