// Package storage keeps locally held content, published object descriptors
// and small bits of node state in a single BoltDB file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/imdevinc/netinf-node/internal/content"
)

var (
	contentBucket = []byte("content")
	metaBucket    = []byte("meta")
	stateBucket   = []byte("state")
)

// ErrNotFound is returned when a key is not present
var ErrNotFound = errors.New("storage: not found")

// Store provides persistent storage using BoltDB. Content is stored zstd
// compressed and keyed by hash value, the form in which peers request it.
type Store struct {
	db      *bolt.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewStore opens or creates the database at path
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{contentBucket, metaBucket, stateBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Store{db: db, encoder: enc, decoder: dec}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	if s.encoder != nil {
		s.encoder.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// PutContent stores data under its hash value
func (s *Store) PutContent(hash string, data []byte) error {
	if hash == "" {
		return fmt.Errorf("empty content hash")
	}
	compressed := s.encoder.EncodeAll(data, nil)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contentBucket).Put([]byte(hash), compressed)
	})
}

// GetContent returns the content stored under hash
func (s *Store) GetContent(hash string) ([]byte, error) {
	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(contentBucket).Get([]byte(hash))
		if v == nil {
			return fmt.Errorf("%w: content %s", ErrNotFound, hash)
		}
		// Bolt values are only valid inside the transaction.
		compressed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress content %s: %w", hash, err)
	}
	return data, nil
}

// HasContent checks if content for hash exists
func (s *Store) HasContent(hash string) bool {
	return s.has(contentBucket, hash)
}

// DeleteContent removes content for hash
func (s *Store) DeleteContent(hash string) error {
	return s.delete(contentBucket, hash)
}

// ContentKeys returns the hash values of all stored content
func (s *Store) ContentKeys() ([]string, error) {
	return s.keys(contentBucket)
}

// PutObject stores a published object descriptor keyed by its ni URI
func (s *Store) PutObject(obj *content.Object) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode object: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(obj.Handle.URI()), raw)
	})
}

// GetObject returns the descriptor stored for uri
func (s *Store) GetObject(uri string) (*content.Object, error) {
	var obj content.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get([]byte(uri))
		if v == nil {
			return fmt.Errorf("%w: object %s", ErrNotFound, uri)
		}
		return json.Unmarshal(v, &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// Objects returns every stored descriptor
func (s *Store) Objects() ([]*content.Object, error) {
	var objs []*content.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(k, v []byte) error {
			var obj content.Object
			if err := json.Unmarshal(v, &obj); err != nil {
				return fmt.Errorf("failed to decode object %s: %w", k, err)
			}
			objs = append(objs, &obj)
			return nil
		})
	})
	return objs, err
}

// DeleteObject removes the descriptor stored for uri
func (s *Store) DeleteObject(uri string) error {
	return s.delete(metaBucket, uri)
}

// Set stores a state value
func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put([]byte(key), []byte(value))
	})
}

// Get retrieves a state value
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w: key %s", ErrNotFound, key)
		}
		value = string(v)
		return nil
	})
	return value, err
}

// GetWithDefault retrieves a state value or returns a default if not found
func (s *Store) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// Delete removes a state value
func (s *Store) Delete(key string) error {
	return s.delete(stateBucket, key)
}

func (s *Store) has(bucket []byte, key string) bool {
	var exists bool
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucket).Get([]byte(key)) != nil
		return nil
	})
	return exists
}

func (s *Store) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (s *Store) keys(bucket []byte) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
