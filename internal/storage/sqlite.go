package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"familyconnect/internal/family"
	logx "familyconnect/pkg/logx"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	pragmas := url.Values{}
	if cfg.BusyTimeout > 0 {
		pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(NORMAL)")
	pragmas.Add("_pragma", "foreign_keys(1)")

	db, err := sql.Open("sqlite", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FamilyByAccount(ctx context.Context, accountID string) (family.Family, error) {
	return s.queryFamily(ctx, `SELECT id, account_id, setup_code, created_at FROM families WHERE account_id = ?`, accountID)
}

func (s *sqliteStore) FamilyByCode(ctx context.Context, code string) (family.Family, error) {
	return s.queryFamily(ctx, `SELECT id, account_id, setup_code, created_at FROM families WHERE setup_code = ?`, code)
}

func (s *sqliteStore) queryFamily(ctx context.Context, q string, arg string) (family.Family, error) {
	var (
		f  family.Family
		at string
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&f.ID, &f.AccountID, &f.SetupCode, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return family.Family{}, ErrNotFound
	}
	if err != nil {
		return family.Family{}, err
	}
	f.CreatedAt = parseTime(at)
	return f, nil
}

func (s *sqliteStore) CreateFamily(ctx context.Context, f family.Family) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO families(id, account_id, setup_code, created_at) VALUES(?,?,?,?)`,
		f.ID, f.AccountID, f.SetupCode, formatTime(f.CreatedAt),
	)
	return mapConstraint(err)
}

func (s *sqliteStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM families WHERE setup_code = ?`, code).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Members(ctx context.Context, familyID string) ([]family.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, family_id, name, created_at FROM members WHERE family_id = ? ORDER BY created_at, id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []family.Member
	for rows.Next() {
		var (
			m  family.Member
			at string
		)
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.Name, &at); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(at)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Member(ctx context.Context, deviceID string) (family.Member, error) {
	var (
		m  family.Member
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, family_id, name, created_at FROM members WHERE id = ?`, deviceID).Scan(&m.ID, &m.FamilyID, &m.Name, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return family.Member{}, ErrNotFound
	}
	if err != nil {
		return family.Member{}, err
	}
	m.CreatedAt = parseTime(at)
	return m, nil
}

func (s *sqliteStore) AddMember(ctx context.Context, m family.Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(id, family_id, name, created_at) VALUES(?,?,?,?)`,
		m.ID, m.FamilyID, m.Name, formatTime(m.CreatedAt),
	)
	return mapConstraint(err)
}

func (s *sqliteStore) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM members WHERE id = ?`, deviceID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, family_id, intent, addressee, kind, matched, connected, notified, failed, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		formatTime(e.At), nullStr(e.FamilyID), e.Intent, nullStr(e.Addressee), nullStr(e.Kind),
		e.Matched, e.Connected, e.Notified, e.Failed, e.TookMS,
	)
	return err
}

// mapConstraint turns unique/primary key violations into ErrConflict.
// Other constraint failures (foreign key, not null) pass through.
func mapConstraint(err error) error {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return err
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// timeLayout is fixed width so stored timestamps sort lexically in time
// order. RFC3339Nano trims trailing zeros and would not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
