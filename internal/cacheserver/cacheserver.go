// Package cacheserver implements the minimal HTTP remote cache service
// described in spec.md §4.6: PUT/GET/HEAD against /v1/artifacts/{key},
// backed by the same sharded on-disk layout as internal/localcache.
package cacheserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/google/renameio"
	"github.com/hashicorp/go-hclog"

	"github.com/polykit-dev/polykit/internal/turbopath"
)

// isValidKey reports whether key is a 64-character lowercase hex sha256
// digest, per spec.md §4.6 "Key validation: 64 lowercase hex chars, else
// 400".
func isValidKey(key string) bool {
	if len(key) != 64 {
		return false
	}
	for _, r := range key {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Server serves the remote cache protocol out of a directory on disk.
type Server struct {
	dir     turbopath.AbsoluteSystemPath
	maxSize int64
	logger  hclog.Logger
	mux     *chi.Mux
}

// DefaultMaxArtifactSize matches internal/manifest's workspace default.
const DefaultMaxArtifactSize int64 = 1 << 30

// New constructs a Server rooted at dir. maxSize of 0 uses
// DefaultMaxArtifactSize.
func New(dir turbopath.AbsoluteSystemPath, maxSize int64, logger hclog.Logger) *Server {
	if maxSize <= 0 {
		maxSize = DefaultMaxArtifactSize
	}
	s := &Server{dir: dir, maxSize: maxSize, logger: logger.Named("cacheserver")}

	r := chi.NewRouter()
	r.Put("/v1/artifacts/{key}", s.handlePut)
	r.Get("/v1/artifacts/{key}", s.handleGet)
	r.Head("/v1/artifacts/{key}", s.handleHead)
	s.mux = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) shardDir(key string) turbopath.AbsoluteSystemPath {
	return s.dir.UntypedJoin(key[0:2], key[2:4])
}

func (s *Server) artifactPath(key string) turbopath.AbsoluteSystemPath {
	return s.shardDir(key).UntypedJoin(key + ".zst")
}

func (s *Server) sidecarPath(key string) turbopath.AbsoluteSystemPath {
	return s.shardDir(key).UntypedJoin(key + ".json")
}

type sidecar struct {
	Hash string `json:"hash"`
}

// handlePut reads the request body into memory (at most maxSize bytes, else
// 413), computing sha256 while reading. It answers 409 if the artifact
// already exists when the request is checked, before anything is written;
// otherwise it writes the artifact and its sidecar with renameio, which
// replaces any file at the final path. Two concurrent uploads of the same
// key can both pass the existence check and both get 201; the last rename
// wins.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !isValidKey(key) {
		http.Error(w, "invalid artifact key", http.StatusBadRequest)
		return
	}

	shard := s.shardDir(key)
	if err := shard.MkdirAll(0755); err != nil {
		http.Error(w, "failed to prepare storage", http.StatusInternalServerError)
		return
	}

	limited := io.LimitReader(r.Body, s.maxSize+1)
	h := sha256.New()
	tee := io.TeeReader(limited, h)

	buf, err := io.ReadAll(tee)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}
	if int64(len(buf)) > s.maxSize {
		http.Error(w, "artifact exceeds max size", http.StatusRequestEntityTooLarge)
		return
	}

	if s.artifactPath(key).FileExists() {
		http.Error(w, "artifact already exists", http.StatusConflict)
		return
	}

	if err := renameio.WriteFile(s.artifactPath(key).ToString(), buf, 0644); err != nil {
		http.Error(w, "failed to persist artifact", http.StatusInternalServerError)
		return
	}

	digest := hex.EncodeToString(h.Sum(nil))
	if err := writeSidecar(s.sidecarPath(key), digest); err != nil {
		http.Error(w, "failed to persist metadata", http.StatusInternalServerError)
		return
	}

	s.logger.Info("stored artifact", "key", key, "bytes", len(buf))
	w.WriteHeader(http.StatusCreated)
}

// handleGet streams the artifact body with the headers spec.md §4.6
// requires. 404 on miss.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.serve(w, r, key, true)
}

// handleHead returns the same headers as handleGet with no body.
func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.serve(w, r, key, false)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, key string, withBody bool) {
	if !isValidKey(key) {
		http.Error(w, "invalid artifact key", http.StatusBadRequest)
		return
	}

	path := s.artifactPath(key)
	info, err := path.Lstat()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to stat artifact", http.StatusInternalServerError)
		return
	}

	digest, err := readSidecarDigest(s.sidecarPath(key))
	if err == nil && digest != "" {
		w.Header().Set("X-Artifact-Hash", digest)
	}
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Length", itoa64(info.Size()))

	if !withBody {
		w.WriteHeader(http.StatusOK)
		return
	}

	f, err := path.Open()
	if err != nil {
		http.Error(w, "failed to open artifact", http.StatusInternalServerError)
		return
	}
	defer f.Close() //nolint:errcheck

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
