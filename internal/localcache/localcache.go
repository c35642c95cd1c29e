// Package localcache implements the sharded on-disk artifact store (spec.md
// §4.5), including atomic packing and unpacking of task output archives.
package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio"

	"github.com/polykit-dev/polykit/internal/cacheitem"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// ErrInvalidKey is returned when a cache key isn't a 64-character lowercase
// hex sha256 digest.
var ErrInvalidKey = errors.New("localcache: key must be a 64-character lowercase hex sha256 digest")

// Metadata is the JSON sidecar persisted alongside every artifact.
type Metadata struct {
	Hash       string `json:"hash"`
	DurationMS int64  `json:"duration_ms"`
}

// Store is the local filesystem artifact cache rooted at a workspace's
// configured cache directory.
type Store struct {
	root turbopath.AbsoluteSystemPath
}

// New returns a Store rooted at <cacheDir>/artifacts, creating it if
// necessary.
func New(cacheDir turbopath.AbsoluteSystemPath) (*Store, error) {
	root := cacheDir.UntypedJoin("artifacts")
	if err := root.MkdirAll(0755); err != nil {
		return nil, fmt.Errorf("localcache: creating artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

func validateKey(key string) error {
	if len(key) != 64 {
		return ErrInvalidKey
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ErrInvalidKey
		}
	}
	return nil
}

// shardDir returns <root>/<key[0:2]>/<key[2:4]>, per spec.md §4.5.
func (s *Store) shardDir(key string) turbopath.AbsoluteSystemPath {
	return s.root.UntypedJoin(key[0:2], key[2:4])
}

func (s *Store) artifactPath(key string) turbopath.AbsoluteSystemPath {
	return s.shardDir(key).UntypedJoin(key + ".zst")
}

func (s *Store) sidecarPath(key string) turbopath.AbsoluteSystemPath {
	return s.shardDir(key).UntypedJoin(key + ".json")
}

// Has reports whether key is present in the local store.
func (s *Store) Has(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return s.artifactPath(key).FileExists(), nil
}

// Fetch unpacks the cached artifact for key into anchor, returning the
// restored files and the recorded task duration. ok is false on a clean
// miss.
func (s *Store) Fetch(key string, anchor turbopath.AbsoluteSystemPath) (files []turbopath.AnchoredSystemPath, duration time.Duration, ok bool, err error) {
	if err := validateKey(key); err != nil {
		return nil, 0, false, err
	}

	artifact := s.artifactPath(key)
	if !artifact.FileExists() {
		return nil, 0, false, nil
	}

	item, openErr := cacheitem.Open(artifact)
	if openErr != nil {
		return nil, 0, false, openErr
	}
	defer item.Close() //nolint:errcheck

	restored, restoreErr := item.Restore(anchor)
	if restoreErr != nil {
		return nil, 0, false, restoreErr
	}

	meta, metaErr := s.readMetadata(key)
	if metaErr != nil {
		return restored, 0, true, nil
	}

	return restored, time.Duration(meta.DurationMS) * time.Millisecond, true, nil
}

// Put packs files rooted at anchor into the store under key, along with a
// metadata sidecar recording how long the task took to produce them.
// Writes are atomic: cacheitem streams to a temporary file in the shard
// directory that is then renamed into place, and the sidecar is written via
// renameio, so a reader never observes a partial artifact.
func (s *Store) Put(key string, anchor turbopath.AbsoluteSystemPath, files []turbopath.AnchoredSystemPath, duration time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	shard := s.shardDir(key)
	if err := shard.MkdirAll(0755); err != nil {
		return fmt.Errorf("localcache: creating shard dir: %w", err)
	}

	tmp := shard.UntypedJoin(key + ".tmp.zst")
	item, err := cacheitem.Create(tmp)
	if err != nil {
		return fmt.Errorf("localcache: creating artifact: %w", err)
	}
	for _, file := range files {
		if addErr := item.AddFile(anchor, file); addErr != nil {
			_ = item.Close()
			_ = tmp.Remove()
			return fmt.Errorf("localcache: adding %s: %w", file, addErr)
		}
	}
	if err := item.Close(); err != nil {
		_ = tmp.Remove()
		return fmt.Errorf("localcache: finalizing artifact: %w", err)
	}
	if err := tmp.Rename(s.artifactPath(key)); err != nil {
		return fmt.Errorf("localcache: publishing artifact: %w", err)
	}

	return s.writeMetadata(key, &Metadata{Hash: key, DurationMS: duration.Milliseconds()})
}

func (s *Store) readMetadata(key string) (*Metadata, error) {
	raw, err := s.sidecarPath(key).ReadFile()
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) writeMetadata(key string, meta *Metadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.sidecarPath(key).ToString(), raw, 0644)
}

// WriteRawArtifact stages a remotely-fetched payload into the store under
// key, alongside a sidecar recording duration, without needing to already
// have a cacheitem handle open. Used by the executor after a remote cache
// hit, so a subsequent Fetch can unpack it like any local entry.
func (s *Store) WriteRawArtifact(key string, payload []byte, duration time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	shard := s.shardDir(key)
	if err := shard.MkdirAll(0755); err != nil {
		return fmt.Errorf("localcache: creating shard dir: %w", err)
	}
	if err := renameio.WriteFile(s.artifactPath(key).ToString(), payload, 0644); err != nil {
		return fmt.Errorf("localcache: writing raw artifact: %w", err)
	}
	return s.writeMetadata(key, &Metadata{Hash: key, DurationMS: duration.Milliseconds()})
}

// ReadRawArtifact returns the compressed artifact payload for key, for
// uploading to a remote cache.
func (s *Store) ReadRawArtifact(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.artifactPath(key).ReadFile()
}

// Clean removes a single artifact and its sidecar from the store.
func (s *Store) Clean(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.artifactPath(key).Remove(); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := s.sidecarPath(key).Remove(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CleanAll removes every artifact from the store.
func (s *Store) CleanAll() error {
	return s.root.RemoveAll()
}
