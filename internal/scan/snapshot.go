package scan

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/renameio"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// SchemaTag versions the on-disk snapshot format. A bump here is
// backward-incompatible and forces a full rescan (spec.md §4.1, §9 "Snapshot
// evolution").
const SchemaTag = "polykit-scan-v1"

// SnapshotFileName is the file persisted under a workspace's cache_dir.
const SnapshotFileName = "scan.bin"

type snapshotDoc struct {
	SchemaTag  string
	LayoutHash string
	Packages   []snapshotPackage
}

type snapshotTask struct {
	Command   string
	DependsOn []string
	Outputs   []string
}

type snapshotPackage struct {
	Name             string
	Dir              string
	Language         string
	Public           bool
	InternalDeps     []string
	Tasks            map[string]snapshotTask
	Mtimes           map[string]int64 // unix nanoseconds
	ToolchainVersion string
}

func toSnapshot(packages map[string]*manifest.Package) snapshotDoc {
	names := make([]string, 0, len(packages))
	for name := range packages {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := snapshotDoc{
		SchemaTag: SchemaTag,
		Packages:  make([]snapshotPackage, 0, len(names)),
	}

	for _, name := range names {
		pkg := packages[name]
		tasks := make(map[string]snapshotTask, len(pkg.Tasks))
		for taskName, task := range pkg.Tasks {
			tasks[taskName] = snapshotTask{
				Command:   task.Command,
				DependsOn: task.DependsOn,
				Outputs:   task.Outputs,
			}
		}
		mtimes := make(map[string]int64, len(pkg.Mtimes))
		for path, mtime := range pkg.Mtimes {
			mtimes[path] = mtime.UnixNano()
		}
		doc.Packages = append(doc.Packages, snapshotPackage{
			Name:             pkg.Name,
			Dir:              pkg.Dir.ToString(),
			Language:         string(pkg.Language),
			Public:           pkg.Public,
			InternalDeps:     pkg.InternalDeps,
			Tasks:            tasks,
			Mtimes:           mtimes,
			ToolchainVersion: pkg.ToolchainVersion,
		})
	}

	doc.LayoutHash = layoutHash(names)
	return doc
}

func fromSnapshot(doc snapshotDoc) map[string]*manifest.Package {
	packages := make(map[string]*manifest.Package, len(doc.Packages))
	for _, sp := range doc.Packages {
		tasks := make(map[string]manifest.Task, len(sp.Tasks))
		for taskName, task := range sp.Tasks {
			tasks[taskName] = manifest.Task{
				Command:   task.Command,
				DependsOn: task.DependsOn,
				Outputs:   task.Outputs,
			}
		}
		mtimes := make(map[string]time.Time, len(sp.Mtimes))
		for path, nanos := range sp.Mtimes {
			mtimes[path] = time.Unix(0, nanos)
		}
		packages[sp.Name] = &manifest.Package{
			Name:             sp.Name,
			Dir:              turbopath.AbsoluteSystemPathFromUpstream(sp.Dir),
			Language:         manifest.Language(sp.Language),
			Public:           sp.Public,
			InternalDeps:     sp.InternalDeps,
			Tasks:            tasks,
			Mtimes:           mtimes,
			ToolchainVersion: sp.ToolchainVersion,
		}
	}
	return packages
}

// layoutHash is a content hash of the workspace layout (package names),
// stored alongside the snapshot for diagnostic purposes; it is not used to
// decide cache validity (that's per-package mtime comparison).
func layoutHash(sortedNames []string) string {
	h := sha256.New()
	for _, name := range sortedNames {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// loadSnapshot reads and decodes the persisted snapshot at path. Any
// problem reading it, or a schema tag mismatch, is treated as "no usable
// snapshot" rather than a fatal error: the caller falls back to a full
// scan, per spec.md §4.1 "A corrupt snapshot ... is silently discarded".
func loadSnapshot(path turbopath.AbsoluteSystemPath) (map[string]*manifest.Package, bool) {
	raw, err := os.ReadFile(path.ToString())
	if err != nil {
		return nil, false
	}

	var doc snapshotDoc
	dec := gob.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if doc.SchemaTag != SchemaTag {
		return nil, false
	}

	return fromSnapshot(doc), true
}

// saveSnapshot atomically persists the package set: write to a temp file,
// fsync, rename over the destination, via google/renameio. Matches
// spec.md §4.1's "write snapshot to <cache_dir>/scan.bin.tmp, fsync, rename
// over scan.bin".
func saveSnapshot(path turbopath.AbsoluteSystemPath, packages map[string]*manifest.Package) error {
	doc := toSnapshot(packages)

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("scan: encoding snapshot: %w", err)
	}

	if err := path.Dir().MkdirAll(0755); err != nil {
		return fmt.Errorf("scan: creating cache dir: %w", err)
	}

	return renameio.WriteFile(path.ToString(), buf.Bytes(), 0644)
}
