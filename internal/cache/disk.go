package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DiskStore persists entries as one file per key under a directory, with
// the expiry stamped in an 8-byte header. Survives restarts, which matters
// for the week-long company directory entry.
type DiskStore struct {
	dir string
	now func() time.Time
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, now: time.Now}, nil
}

func (s *DiskStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".cache")
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(raw) < 8 {
		return nil, ErrNotFound
	}
	expiry := int64(binary.BigEndian.Uint64(raw[:8]))
	if expiry > 0 && s.now().Unix() >= expiry {
		_ = os.Remove(s.path(key))
		return nil, ErrNotFound
	}
	return raw[8:], nil
}

func (s *DiskStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiry int64
	if ttl > 0 {
		expiry = s.now().Add(ttl).Unix()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiry))
	copy(buf[8:], value)

	tmp, err := os.CreateTemp(s.dir, ".write-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
