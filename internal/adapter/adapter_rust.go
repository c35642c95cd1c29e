package adapter

import (
	"github.com/Masterminds/semver"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

type cargoDoc struct {
	Package map[string]interface{} `toml:"package"`
}

func readCargoToml(dir turbopath.AbsoluteSystemPath) (cargoDoc, turbopath.AbsoluteSystemPath, error) {
	path := dir.UntypedJoin("Cargo.toml")
	raw, err := path.ReadFile()
	if err != nil {
		return cargoDoc{}, path, err
	}
	var doc cargoDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return cargoDoc{}, path, errors.Wrap(err, "parsing Cargo.toml")
	}
	return doc, path, nil
}

type rustAdapter struct{}

func (rustAdapter) LanguageTag() manifest.Language { return manifest.LanguageRust }

func (rustAdapter) Detect(dir turbopath.AbsoluteSystemPath) bool {
	return dir.UntypedJoin("Cargo.toml").FileExists()
}

func (rustAdapter) ReadVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error) {
	doc, _, err := readCargoToml(dir)
	if err != nil {
		return nil, err
	}
	raw, ok := doc.Package["version"].(string)
	if !ok || raw == "" {
		return nil, nil
	}
	return semver.NewVersion(raw)
}

func (rustAdapter) WriteVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error {
	doc, path, err := readCargoToml(dir)
	if err != nil {
		return err
	}
	if doc.Package == nil {
		doc.Package = map[string]interface{}{}
	}
	doc.Package["version"] = v.String()
	out, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	return path.WriteFile(out, 0644)
}

func (rustAdapter) DefaultOutputPaths() []string {
	return []string{"target/release/**"}
}

func (rustAdapter) ToolchainVersion() (string, error) {
	return runVersionCmd("rustc", "--version")
}
