package manifest

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/polykit-dev/polykit/internal/turbopath"
)

// ManifestFileName is the name of a package manifest file.
const ManifestFileName = "polykit.toml"

// rawTaskDef mirrors the table form of a task entry:
//
//	[tasks.build]
//	command = "go build ./..."
//	depends_on = ["generate"]
type rawTaskDef struct {
	Command   string   `toml:"command"`
	DependsOn []string `toml:"depends_on"`
	Outputs   []string `toml:"outputs"`
}

// rawPackageManifest is the on-disk shape of a per-package polykit.toml.
// Tasks is decoded generically because each entry may be either a bare
// string (command only) or a table (command + depends_on + outputs).
type rawPackageManifest struct {
	Name     string `toml:"name"`
	Language string `toml:"language"`
	Public   bool   `toml:"public"`
	Deps     struct {
		Internal []string `toml:"internal"`
	} `toml:"deps"`
	Tasks map[string]interface{} `toml:"tasks"`
}

// ParsePackageManifest reads and decodes a package's polykit.toml. It does
// not check referential integrity against the rest of the workspace; that
// is the validator's job (internal/validate).
func ParsePackageManifest(path turbopath.AbsoluteSystemPath) (*Package, error) {
	raw, err := os.ReadFile(path.ToString())
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	var doc rawPackageManifest
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	if doc.Name == "" {
		return nil, fmt.Errorf("%s: missing required field \"name\"", path)
	}
	if doc.Language == "" {
		return nil, fmt.Errorf("%s: missing required field \"language\"", path)
	}

	tasks, err := decodeTasks(doc.Tasks)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}

	return &Package{
		Name:         doc.Name,
		Dir:          path.Dir(),
		Language:     Language(doc.Language),
		Public:       doc.Public,
		InternalDeps: dedupe(doc.Deps.Internal),
		Tasks:        tasks,
		Mtimes:       map[string]time.Time{},
	}, nil
}

func decodeTasks(raw map[string]interface{}) (map[string]Task, error) {
	tasks := make(map[string]Task, len(raw))
	for name, v := range raw {
		switch value := v.(type) {
		case string:
			tasks[name] = Task{Command: value}
		case map[string]interface{}:
			def, err := decodeTaskTable(value)
			if err != nil {
				return nil, errors.Wrapf(err, "task %q", name)
			}
			tasks[name] = def
		default:
			return nil, fmt.Errorf("task %q: unsupported value type %T", name, v)
		}
	}
	return tasks, nil
}

func decodeTaskTable(m map[string]interface{}) (Task, error) {
	var def Task
	if cmd, ok := m["command"]; ok {
		s, ok := cmd.(string)
		if !ok {
			return def, fmt.Errorf("\"command\" must be a string")
		}
		def.Command = s
	}
	if deps, ok := m["depends_on"]; ok {
		list, err := toStringSlice(deps)
		if err != nil {
			return def, errors.Wrap(err, "\"depends_on\"")
		}
		def.DependsOn = list
	}
	if outputs, ok := m["outputs"]; ok {
		list, err := toStringSlice(outputs)
		if err != nil {
			return def, errors.Wrap(err, "\"outputs\"")
		}
		def.Outputs = list
	}
	return def, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	raw, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("must be an array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("array elements must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// dedupe removes duplicate entries while preserving first-seen order, per
// spec.md's "order preserved for tie-breaking but deduplicated".
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// rawWorkspaceManifest is the on-disk shape of the repo-root polykit.toml.
type rawWorkspaceManifest struct {
	Workspace struct {
		CacheDir        string `toml:"cache_dir"`
		DefaultParallel int    `toml:"default_parallel"`
	} `toml:"workspace"`
	RemoteCache struct {
		URL             string   `toml:"url"`
		ReadOnly        bool     `toml:"read_only"`
		EnvVars         []string `toml:"env_vars"`
		InputFiles      []string `toml:"input_files"`
		MaxArtifactSize int64    `toml:"max_artifact_size"`
	} `toml:"remote_cache"`
}

// ParseWorkspaceManifest reads and decodes the repo-root polykit.toml. A
// missing file is not an error: it returns a Workspace populated entirely
// with defaults.
func ParseWorkspaceManifest(root turbopath.AbsoluteSystemPath) (*Workspace, error) {
	ws := &Workspace{
		Root:            root,
		CacheDir:        DefaultCacheDir,
		DefaultParallel: defaultParallel(),
	}

	path := root.Join(turbopath.RelativeSystemPathFromUpstream(ManifestFileName))
	raw, err := os.ReadFile(path.ToString())
	if errors.Is(err, os.ErrNotExist) {
		return ws, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	var doc rawWorkspaceManifest
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	if doc.Workspace.CacheDir != "" {
		ws.CacheDir = doc.Workspace.CacheDir
	}
	if doc.Workspace.DefaultParallel > 0 {
		ws.DefaultParallel = doc.Workspace.DefaultParallel
	}

	if doc.RemoteCache.URL != "" {
		maxSize := doc.RemoteCache.MaxArtifactSize
		if maxSize == 0 {
			maxSize = DefaultMaxArtifactSize
		}
		ws.RemoteCache = &RemoteCacheConfig{
			URL:              doc.RemoteCache.URL,
			ReadOnly:         doc.RemoteCache.ReadOnly,
			EnvVarsWhitelist: doc.RemoteCache.EnvVars,
			InputGlobs:       doc.RemoteCache.InputFiles,
			MaxArtifactSize:  maxSize,
		}
	}

	return ws, nil
}

func defaultParallel() int {
	return 1
}
