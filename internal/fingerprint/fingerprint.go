// Package fingerprint computes the deterministic 256-bit cache key for a
// (package, task) invocation, per spec.md §4.4.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/polykit-dev/polykit/internal/manifest"
)

// SchemaTag is the first field folded into every fingerprint, so that a
// future change to the hash domain forces every existing key to miss.
const SchemaTag = "polykit-fp-v1"

// buildTaskName is the task name consulted when folding a dependency
// package's fingerprint into its dependents' keys (spec.md §4.4 step 7,
// "fingerprint of its configured build task"). A dependency that doesn't
// define this task contributes nothing.
const buildTaskName = "build"

// defaultGlobs are the input globs applied when a workspace doesn't
// configure input_globs, one set per language.
var defaultGlobs = map[manifest.Language][]string{
	manifest.LanguageJS:     {"**/*.js", "**/*.json", "package.json"},
	manifest.LanguageTS:     {"**/*.ts", "**/*.tsx", "tsconfig.json", "package.json"},
	manifest.LanguagePython: {"**/*.py", "pyproject.toml"},
	manifest.LanguageGo:     {"**/*.go", "go.mod", "go.sum"},
	manifest.LanguageRust:   {"**/*.rs", "Cargo.toml"},
}

// ToolchainVersionFunc resolves the toolchain version string for a
// package's language, via the language adapter (internal/adapter).
type ToolchainVersionFunc func(pkg *manifest.Package) (string, error)

// Fingerprinter computes fingerprints for a fixed package set, memoizing
// per-(package,task) results for the lifetime of a single run, as required
// by spec.md §4.4 step 7.
type Fingerprinter struct {
	packages     map[string]*manifest.Package
	envWhitelist []string
	inputGlobs   []string
	toolchain    ToolchainVersionFunc

	mu    sync.Mutex
	memo  map[string]string
	stack map[string]bool // cycle guard for recursive dependency fingerprinting
}

// New constructs a Fingerprinter. envWhitelist and inputGlobs come from the
// workspace's remote_cache configuration; inputGlobs may be empty, in which
// case each package's language-default globs apply.
func New(packages map[string]*manifest.Package, envWhitelist []string, inputGlobs []string, toolchain ToolchainVersionFunc) *Fingerprinter {
	return &Fingerprinter{
		packages:     packages,
		envWhitelist: envWhitelist,
		inputGlobs:   inputGlobs,
		toolchain:    toolchain,
		memo:         map[string]string{},
		stack:        map[string]bool{},
	}
}

func memoKey(pkgName, taskName string) string {
	return pkgName + "#" + taskName
}

// Fingerprint computes the hex-encoded 256-bit cache key for (pkgName,
// taskName). Results are memoized for the Fingerprinter's lifetime.
func (f *Fingerprinter) Fingerprint(pkgName, taskName string) (string, error) {
	f.mu.Lock()
	if cached, ok := f.memo[memoKey(pkgName, taskName)]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	if f.stack[memoKey(pkgName, taskName)] {
		f.mu.Unlock()
		return "", fmt.Errorf("fingerprint: cyclic dependency fingerprinting %s#%s", pkgName, taskName)
	}
	f.stack[memoKey(pkgName, taskName)] = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.stack, memoKey(pkgName, taskName))
		f.mu.Unlock()
	}()

	pkg, ok := f.packages[pkgName]
	if !ok {
		return "", fmt.Errorf("fingerprint: unknown package %q", pkgName)
	}
	task, ok := pkg.Tasks[taskName]
	if !ok {
		return "", fmt.Errorf("fingerprint: package %q has no task %q", pkgName, taskName)
	}

	h := sha256.New()
	writeField(h, SchemaTag)
	writeField(h, pkgName)
	writeField(h, taskName)
	writeField(h, task.Command)

	if err := f.writeEnv(h); err != nil {
		return "", errors.Wrapf(err, "hashing env for %s#%s", pkgName, taskName)
	}

	if err := f.writeInputs(h, pkg); err != nil {
		return "", errors.Wrapf(err, "hashing inputs for %s#%s", pkgName, taskName)
	}

	depNames := make([]string, len(pkg.InternalDeps))
	copy(depNames, pkg.InternalDeps)
	sort.Strings(depNames)
	for _, dep := range depNames {
		depPkg, ok := f.packages[dep]
		if !ok {
			return "", fmt.Errorf("fingerprint: unknown dependency %q of %q", dep, pkgName)
		}
		writeField(h, dep)
		if !depPkg.HasTask(buildTaskName) {
			writeField(h, "")
			continue
		}
		depFP, err := f.Fingerprint(dep, buildTaskName)
		if err != nil {
			return "", err
		}
		writeField(h, depFP)
	}

	toolchain := ""
	if f.toolchain != nil {
		v, err := f.toolchain(pkg)
		if err != nil {
			return "", errors.Wrapf(err, "resolving toolchain version for %s", pkgName)
		}
		toolchain = v
	}
	writeField(h, toolchain)

	sum := hex.EncodeToString(h.Sum(nil))

	f.mu.Lock()
	f.memo[memoKey(pkgName, taskName)] = sum
	f.mu.Unlock()

	return sum, nil
}

// writeField folds a length-prefixed field into the hash, so that e.g. the
// boundary between "ab"+"c" and "a"+"bc" is never ambiguous.
func writeField(h io.Writer, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	io.WriteString(h, s)
}

// writeEnv folds the sorted (key, value) pairs of every whitelisted env var
// into the hash. A variable absent from the process environment is encoded
// distinctly from one present with an empty value.
func (f *Fingerprinter) writeEnv(h io.Writer) error {
	whitelist := make([]string, len(f.envWhitelist))
	copy(whitelist, f.envWhitelist)
	sort.Strings(whitelist)

	for _, name := range whitelist {
		value, present := os.LookupEnv(name)
		if !present {
			writeField(h, name+"=\x00absent")
			continue
		}
		writeField(h, name+"="+value)
	}
	return nil
}

// writeInputs walks the package directory, matches files against the
// configured (or default) input globs, and folds the sorted
// (relative_path, sha256) pairs into the hash.
func (f *Fingerprinter) writeInputs(h io.Writer, pkg *manifest.Package) error {
	patterns := f.inputGlobs
	if len(patterns) == 0 {
		patterns = defaultGlobs[pkg.Language]
	}

	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return errors.Wrapf(err, "compiling input glob %q", pattern)
		}
		matchers = append(matchers, g)
	}

	type fileHash struct {
		relPath string
		sum     string
	}
	var files []fileHash

	root := pkg.Dir.ToString()
	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		matched := false
		for _, m := range matchers {
			// The leading "/" lets "**/" patterns match files at the package root too.
			if m.Match(relSlash) || m.Match("/"+relSlash) {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		sum, err := sha256File(path)
		if err != nil {
			return err
		}
		files = append(files, fileHash{relPath: relSlash, sum: sum})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
	for _, fh := range files {
		writeField(h, fh.relPath+":"+fh.sum)
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
