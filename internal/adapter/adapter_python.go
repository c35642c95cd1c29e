package adapter

import (
	"github.com/Masterminds/semver"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

// pyprojectDoc mirrors the [project] table, which is all ReadVersion needs.
// WriteVersion round-trips the whole document through a generic map so
// unrelated tables survive a version bump.
type pyprojectDoc struct {
	Project map[string]interface{} `toml:"project"`
}

func readPyproject(dir turbopath.AbsoluteSystemPath) (pyprojectDoc, turbopath.AbsoluteSystemPath, error) {
	path := dir.UntypedJoin("pyproject.toml")
	raw, err := path.ReadFile()
	if err != nil {
		return pyprojectDoc{}, path, err
	}
	var doc pyprojectDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return pyprojectDoc{}, path, errors.Wrap(err, "parsing pyproject.toml")
	}
	return doc, path, nil
}

type pythonAdapter struct{}

func (pythonAdapter) LanguageTag() manifest.Language { return manifest.LanguagePython }

func (pythonAdapter) Detect(dir turbopath.AbsoluteSystemPath) bool {
	return dir.UntypedJoin("pyproject.toml").FileExists()
}

func (pythonAdapter) ReadVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error) {
	doc, _, err := readPyproject(dir)
	if err != nil {
		return nil, err
	}
	raw, ok := doc.Project["version"].(string)
	if !ok || raw == "" {
		return nil, nil
	}
	return semver.NewVersion(raw)
}

func (pythonAdapter) WriteVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error {
	path := dir.UntypedJoin("pyproject.toml")
	raw, err := path.ReadFile()
	if err != nil {
		return err
	}
	doc := map[string]interface{}{}
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "parsing pyproject.toml")
	}
	project, ok := doc["project"].(map[string]interface{})
	if !ok {
		project = map[string]interface{}{}
		doc["project"] = project
	}
	project["version"] = v.String()
	out, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	return path.WriteFile(out, 0644)
}

func (pythonAdapter) DefaultOutputPaths() []string {
	return []string{"dist/**", "build/**"}
}

func (pythonAdapter) ToolchainVersion() (string, error) {
	return runVersionCmd("python3", "--version")
}
