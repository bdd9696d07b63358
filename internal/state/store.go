// Package state is the durable single-process store backing the
// dataset index and session logs. Both live in one Badger database
// under the service data directory; values are JSON records keyed by
// a type prefix.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/session"
)

const (
	datasetPrefix = "dataset:"
	sessionPrefix = "session:"
)

type Store struct {
	db *badger.DB
}

func Open(dataDir string) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Join(dataDir, "state"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunValueLogGC keeps rewriting value-log files until Badger reports
// nothing left worth rewriting. Returns the number of rewrites.
func (s *Store) RunValueLogGC(discardRatio float64) (int, error) {
	rewrites := 0
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return rewrites, nil
		}
		if err != nil {
			return rewrites, fmt.Errorf("value log gc: %w", err)
		}
		rewrites++
	}
}

func (s *Store) Size() (lsm int64, vlog int64) {
	return s.db.Size()
}

func (s *Store) PutDataset(ctx context.Context, meta dataset.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal dataset %q: %w", meta.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(datasetPrefix+meta.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put dataset %q: %w", meta.ID, err)
	}
	return nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (dataset.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return dataset.Metadata{}, err
	}
	var meta dataset.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(datasetPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return dataset.Metadata{}, dataset.ErrNotFound
	}
	if err != nil {
		return dataset.Metadata{}, fmt.Errorf("get dataset %q: %w", id, err)
	}
	return meta, nil
}

func (s *Store) ListDatasets(ctx context.Context) ([]dataset.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []dataset.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(datasetPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta dataset.Metadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				records = append(records, meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(datasetPrefix + id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return dataset.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete dataset %q: %w", id, err)
	}
	return nil
}

// EnsureSession returns the session with the given id, creating an
// empty one titled after the first question when it does not exist.
func (s *Store) EnsureSession(ctx context.Context, id, firstQuestion string, now time.Time) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	var sess session.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(sessionPrefix + id)
		item, err := txn.Get(key)
		if err == nil {
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		sess = session.Session{
			ID:        id,
			Title:     session.Title(firstQuestion),
			CreatedAt: now,
			UpdatedAt: now,
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("ensure session %q: %w", id, err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	var sess session.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("get session %q: %w", id, err)
	}
	return sess, nil
}

// AppendMessages appends to an existing session inside one
// transaction, so concurrent turns cannot drop each other's messages.
func (s *Store) AppendMessages(ctx context.Context, id string, messages ...session.Message) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	var sess session.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(sessionPrefix + id)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		}); err != nil {
			return err
		}
		sess.Append(messages...)
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("append to session %q: %w", id, err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []session.Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sess session.Session
				if err := json.Unmarshal(val, &sess); err != nil {
					return err
				}
				sessions = append(sessions, sess)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(sessionPrefix + id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return session.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}
