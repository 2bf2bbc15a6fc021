// Package store persists the session snapshot and cached credentials in a
// single-file bbolt database.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/majkowska/kindler/internal/errs"
)

var (
	bucketSession = []byte("session")

	keyState = []byte("state")
	keyToken = []byte("token")
)

// Store is a bbolt-backed session store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveState stores the session snapshot blob.
func (s *Store) SaveState(blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put(keyState, blob)
	})
}

// LoadState returns the stored snapshot, or ErrNotFound when none exists.
func (s *Store) LoadState() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSession).Get(keyState)
		if v == nil {
			return fmt.Errorf("session state: %w", errs.ErrNotFound)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type tokenDoc struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SaveToken caches a bearer credential with its expiry.
func (s *Store) SaveToken(token string, expiresAt time.Time) error {
	doc, err := json.Marshal(tokenDoc{AccessToken: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put(keyToken, doc)
	})
}

// LoadToken returns the cached credential. A missing or expired credential
// reports ErrNotFound: login is required.
func (s *Store) LoadToken() (string, time.Time, error) {
	var doc tokenDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSession).Get(keyToken)
		if v == nil {
			return fmt.Errorf("token: %w", errs.ErrNotFound)
		}
		return json.Unmarshal(v, &doc)
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if doc.AccessToken == "" || time.Now().After(doc.ExpiresAt) {
		return "", time.Time{}, fmt.Errorf("token expired: %w", errs.ErrNotFound)
	}
	return doc.AccessToken, doc.ExpiresAt, nil
}
