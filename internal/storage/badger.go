package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"familyconnect/internal/family"
	logx "familyconnect/pkg/logx"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout:
//
//	fam:acct:{account}         -> family (json)
//	fam:code:{code}            -> account
//	fam:mem:{family}:{device}  -> (index, empty)
//	mem:{device}               -> member (json)
//	audit:{unix_nano_padded}:{uuid} -> audit entry (json)
type badgerStore struct {
	db  *badger.DB
	log logx.Logger
}

func openBadger(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("badger path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(badgerLogger{log}))
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &badgerStore{db: db, log: log}, nil
}

func (s *badgerStore) Close() error { return s.db.Close() }

func familyKey(accountID string) []byte { return []byte("fam:acct:" + accountID) }
func codeKey(code string) []byte        { return []byte("fam:code:" + code) }
func memberKey(deviceID string) []byte  { return []byte("mem:" + deviceID) }
func memberIndexPrefix(familyID string) []byte {
	return []byte("fam:mem:" + familyID + ":")
}

func (s *badgerStore) FamilyByAccount(_ context.Context, accountID string) (family.Family, error) {
	var f family.Family
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, familyKey(accountID), &f)
	})
	return f, err
}

func (s *badgerStore) FamilyByCode(_ context.Context, code string) (family.Family, error) {
	var f family.Family
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(codeKey(code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		acc, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, familyKey(string(acc)), &f)
	})
	return f, err
}

// maxTxnAttempts bounds retries of a write transaction that lost an
// optimistic-concurrency race.
const maxTxnAttempts = 3

// update runs fn in a write transaction, retrying on badger.ErrConflict. A
// rerun sees the winner's writes, so uniqueness checks in fn report
// ErrConflict themselves; persistent contention is reported the same way.
func (s *badgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnAttempts {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func (s *badgerStore) CreateFamily(_ context.Context, f family.Family) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{familyKey(f.AccountID), codeKey(f.SetupCode)} {
			if ok, err := exists(txn, k); err != nil {
				return err
			} else if ok {
				return ErrConflict
			}
		}
		if err := txn.Set(familyKey(f.AccountID), b); err != nil {
			return err
		}
		return txn.Set(codeKey(f.SetupCode), []byte(f.AccountID))
	})
}

func (s *badgerStore) CodeInUse(_ context.Context, code string) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, codeKey(code))
		return err
	})
	return ok, err
}

func (s *badgerStore) Members(_ context.Context, familyID string) ([]family.Member, error) {
	var out []family.Member
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := memberIndexPrefix(familyID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			deviceID := string(it.Item().Key()[len(prefix):])
			var m family.Member
			if err := getJSON(txn, memberKey(deviceID), &m); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	sortMembers(out)
	return out, err
}

func (s *badgerStore) Member(_ context.Context, deviceID string) (family.Member, error) {
	var m family.Member
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, memberKey(deviceID), &m)
	})
	return m, err
}

func (s *badgerStore) AddMember(_ context.Context, m family.Member) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, memberKey(m.ID)); err != nil {
			return err
		} else if ok {
			return ErrConflict
		}
		if err := txn.Set(memberKey(m.ID), b); err != nil {
			return err
		}
		return txn.Set(append(memberIndexPrefix(m.FamilyID), m.ID...), nil)
	})
}

func (s *badgerStore) DeviceExists(_ context.Context, deviceID string) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, memberKey(deviceID))
		return err
	})
	return ok, err
}

// AppendAudit keys entries by zero-padded timestamp so a prefix scan reads
// them in chronological order; the uuid breaks same-nanosecond ties.
func (s *badgerStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("audit:%019d:%s", e.At.UnixNano(), uuid.NewString())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), b)
	})
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// badgerLogger routes badger's internal logging through logx.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, a ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
func (l badgerLogger) Warningf(f string, a ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
func (l badgerLogger) Infof(f string, a ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
func (l badgerLogger) Debugf(f string, a ...interface{}) {
	l.log.Trace(strings.TrimSpace(fmt.Sprintf(f, a...)))
}
