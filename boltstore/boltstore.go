// Package boltstore is a reference, embedded-database implementation
// of secretstore.Store, settingsstore.Store and syncstate.Store, all
// sharing one *bolt.DB with a bucket per concern. It exists so the
// core is runnable end to end without an OS keychain or a Postgres
// instance; production deployments are expected to swap in their own
// secret store at minimum.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/notewell/synccore/model"
)

var (
	bucketSecrets  = []byte("secrets")
	bucketSettings = []byte("settings")
	bucketSyncState = []byte("sync_state")
)

// Store bundles the three bbolt-backed stores behind one open
// database handle.
type Store struct {
	db *bolt.DB

	watchMu sync.Mutex
	watchers []chan model.Account
}

// Open creates (or reopens) the database file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "synccore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSecrets, bucketSettings, bucketSyncState} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("boltstore: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// -- secretstore.Store --

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSecrets).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		value = string(v)
		return nil
	})
	return value, found, err
}

func (s *Store) Set(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put([]byte(key), []byte(value))
	})
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Delete([]byte(key))
	})
}

// -- settingsstore.Store --

// Settings returns a view of this Store scoped to settingsstore.Store;
// it shares the same *bolt.DB but a different bucket.
func (s *Store) Settings() *settingsView { return &settingsView{s: s} }

type settingsView struct{ s *Store }

func (v *settingsView) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := v.s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings).Get([]byte(key))
		if b == nil {
			return nil
		}
		found = true
		value = string(b)
		return nil
	})
	return value, found, err
}

func (v *settingsView) Set(_ context.Context, key, value string) error {
	return v.s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

func (v *settingsView) Delete(_ context.Context, key string) error {
	return v.s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Delete([]byte(key))
	})
}

func (v *settingsView) DeletePrefix(_ context.Context, prefix string) error {
	return v.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			kk := append([]byte(nil), k...)
			toDelete = append(toDelete, kk)
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// -- syncstate.Store --

// SyncState returns a view of this Store scoped to syncstate.Store.
func (s *Store) SyncState() *syncStateView { return &syncStateView{s: s} }

type syncStateView struct{ s *Store }

type persistedLinkedNotebookRow struct {
	Guid        string `json:"guid"`
	UpdateCount int32  `json:"update_count"`
	LastSyncMs  int64  `json:"last_sync_ms"`
}

type persistedSyncState struct {
	UserDataUpdateCount  int32                        `json:"user_data_update_count"`
	UserDataLastSyncMs   int64                        `json:"user_data_last_sync_ms"`
	LinkedNotebooks      []persistedLinkedNotebookRow `json:"linked_notebooks"`
}

func stateKey(account model.Account) string {
	return account.EvernoteHost + "/" + fmt.Sprint(account.UserID)
}

func (v *syncStateView) Get(_ context.Context, account model.Account) (model.SyncState, error) {
	out := model.ZeroSyncState()
	err := v.s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSyncState).Get([]byte(stateKey(account)))
		if raw == nil {
			return nil
		}
		var p persistedSyncState
		if err := json.Unmarshal(raw, &p); err != nil {
			// Corrupt state: tolerate by returning zero, per spec.
			return nil
		}
		out.UserDataUpdateCount = p.UserDataUpdateCount
		out.UserDataLastSyncTime = msToTime(p.UserDataLastSyncMs)
		for _, row := range p.LinkedNotebooks {
			if row.Guid == "" {
				continue // corrupt row, skip individually
			}
			out.LinkedNotebookUpdateCounts[row.Guid] = row.UpdateCount
			out.LinkedNotebookLastSync[row.Guid] = msToTime(row.LastSyncMs)
		}
		return nil
	})
	return out, err
}

func (v *syncStateView) Set(_ context.Context, account model.Account, state model.SyncState) error {
	p := persistedSyncState{
		UserDataUpdateCount: state.UserDataUpdateCount,
		UserDataLastSyncMs:  timeToMs(state.UserDataLastSyncTime),
	}
	for guid, count := range state.LinkedNotebookUpdateCounts {
		p.LinkedNotebooks = append(p.LinkedNotebooks, persistedLinkedNotebookRow{
			Guid:        guid,
			UpdateCount: count,
			LastSyncMs:  timeToMs(state.LinkedNotebookLastSync[guid]),
		})
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("boltstore: marshal sync state: %w", err)
	}

	err = v.s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncState).Put([]byte(stateKey(account)), data)
	})
	if err != nil {
		return err
	}

	v.s.notify(account)
	return nil
}

func (v *syncStateView) Watch(ctx context.Context) <-chan model.Account {
	ch := make(chan model.Account, 8)
	v.s.watchMu.Lock()
	v.s.watchers = append(v.s.watchers, ch)
	v.s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		v.s.watchMu.Lock()
		defer v.s.watchMu.Unlock()
		for i, w := range v.s.watchers {
			if w == ch {
				v.s.watchers = append(v.s.watchers[:i], v.s.watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch
}

func (s *Store) notify(account model.Account) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, w := range s.watchers {
		select {
		case w <- account:
		default:
		}
	}
}
