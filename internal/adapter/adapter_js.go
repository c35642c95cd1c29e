package adapter

import (
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"

	"github.com/polykit-dev/polykit/internal/manifest"
	"github.com/polykit-dev/polykit/internal/turbopath"
)

func readPackageJSON(dir turbopath.AbsoluteSystemPath) (map[string]interface{}, error) {
	raw, err := dir.UntypedJoin("package.json").ReadFile()
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "parsing package.json")
	}
	return fields, nil
}

func writePackageJSONVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error {
	path := dir.UntypedJoin("package.json")
	fields, err := readPackageJSON(dir)
	if err != nil {
		return err
	}
	fields["version"] = v.String()
	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	return path.WriteFile(append(out, '\n'), 0644)
}

func packageJSONVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error) {
	fields, err := readPackageJSON(dir)
	if err != nil {
		return nil, err
	}
	raw, ok := fields["version"].(string)
	if !ok || raw == "" {
		return nil, nil
	}
	return semver.NewVersion(raw)
}

// jsAdapter handles plain JavaScript packages.
type jsAdapter struct{}

func (jsAdapter) LanguageTag() manifest.Language { return manifest.LanguageJS }

func (jsAdapter) Detect(dir turbopath.AbsoluteSystemPath) bool {
	return dir.UntypedJoin("package.json").FileExists()
}

func (jsAdapter) ReadVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error) {
	return packageJSONVersion(dir)
}

func (jsAdapter) WriteVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error {
	return writePackageJSONVersion(dir, v)
}

func (jsAdapter) DefaultOutputPaths() []string {
	return []string{"dist/**", "build/**"}
}

func (jsAdapter) ToolchainVersion() (string, error) {
	return runVersionCmd("node", "--version")
}

// tsAdapter handles TypeScript packages. Version metadata and default
// outputs are the same as for plain JS; it differs in detection
// (tsconfig.json) and in the toolchain it reports.
type tsAdapter struct{}

func (tsAdapter) LanguageTag() manifest.Language { return manifest.LanguageTS }

func (tsAdapter) Detect(dir turbopath.AbsoluteSystemPath) bool {
	return dir.UntypedJoin("tsconfig.json").FileExists()
}

func (tsAdapter) ReadVersion(dir turbopath.AbsoluteSystemPath) (*semver.Version, error) {
	return packageJSONVersion(dir)
}

func (tsAdapter) WriteVersion(dir turbopath.AbsoluteSystemPath, v *semver.Version) error {
	return writePackageJSONVersion(dir, v)
}

func (tsAdapter) DefaultOutputPaths() []string {
	return []string{"dist/**", "build/**"}
}

func (tsAdapter) ToolchainVersion() (string, error) {
	return runVersionCmd("tsc", "--version")
}

// runVersionCmd runs a toolchain binary's version flag and returns its
// trimmed combined output.
func runVersionCmd(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "running %s %s", name, strings.Join(args, " "))
	}
	return strings.TrimSpace(string(out)), nil
}
