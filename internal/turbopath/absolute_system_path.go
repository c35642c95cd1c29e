package turbopath

import (
	"os"
	"path/filepath"
)

// AbsoluteSystemPath is an absolute path using system separators.
type AbsoluteSystemPath string

// For interface reasons, we need a way to distinguish between
// Absolute/Anchored/Relative/System/Unix/File paths so we stamp them.
func (AbsoluteSystemPath) absolutePathStamp() {}
func (AbsoluteSystemPath) systemPathStamp()   {}
func (AbsoluteSystemPath) filePathStamp()     {}

// ToString returns a string represenation of this Path.
// Used for interfacing with APIs that require a string.
func (p AbsoluteSystemPath) ToString() string {
	return string(p)
}

// RelativeTo calculates the relative path between two `AbsoluteSystemPath`s.
func (p AbsoluteSystemPath) RelativeTo(basePath AbsoluteSystemPath) (AnchoredSystemPath, error) {
	processed, err := filepath.Rel(basePath.ToString(), p.ToString())
	return AnchoredSystemPath(processed), err
}

// Join appends relative path segments to this AbsoluteSystemPath.
func (p AbsoluteSystemPath) Join(additional ...RelativeSystemPath) AbsoluteSystemPath {
	cast := RelativeSystemPathArray(additional)
	return AbsoluteSystemPath(filepath.Join(p.ToString(), filepath.Join(cast.ToStringArray()...)))
}

// UntypedJoin appends raw string segments to this AbsoluteSystemPath. Prefer
// Join with RelativeSystemPath segments where the segments are already typed.
func (p AbsoluteSystemPath) UntypedJoin(segments ...string) AbsoluteSystemPath {
	result := append([]string{p.ToString()}, segments...)
	return AbsoluteSystemPath(filepath.Join(result...))
}

// Dir returns the directory containing this path, analogous to filepath.Dir.
func (p AbsoluteSystemPath) Dir() AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Dir(p.ToString()))
}

// Base returns the last element of this path, analogous to filepath.Base.
func (p AbsoluteSystemPath) Base() string {
	return filepath.Base(p.ToString())
}

// MkdirAll creates this path and any necessary parents.
func (p AbsoluteSystemPath) MkdirAll(mode os.FileMode) error {
	return os.MkdirAll(p.ToString(), mode)
}

// MkdirAllMode creates this path and any necessary parents, then ensures the
// final directory has exactly the given mode (fixing it up with Chmod if it
// already existed with a different one). A non-directory already at this
// path is removed first and replaced by the directory.
func (p AbsoluteSystemPath) MkdirAllMode(mode os.FileMode) error {
	if info, err := p.Lstat(); err == nil && !info.IsDir() {
		if err := p.Remove(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(p.ToString(), mode.Perm()); err != nil {
		return err
	}
	return os.Chmod(p.ToString(), mode)
}

// Lstat implements os.Lstat for this path.
func (p AbsoluteSystemPath) Lstat() (os.FileInfo, error) {
	return os.Lstat(p.ToString())
}

// WriteFile writes the given contents to this path with the given mode.
func (p AbsoluteSystemPath) WriteFile(contents []byte, mode os.FileMode) error {
	return os.WriteFile(p.ToString(), contents, mode)
}

// Findup walks up from this directory looking for a file named fileName,
// returning its absolute path, or "" if none is found.
func (p AbsoluteSystemPath) Findup(fileName RelativeSystemPath) (AbsoluteSystemPath, error) {
	found, err := FindupFrom(fileName.ToString(), p.ToString())
	if err != nil {
		return "", err
	}
	return AbsoluteSystemPath(found), nil
}

// Open opens this path for reading.
func (p AbsoluteSystemPath) Open() (*os.File, error) {
	return os.Open(p.ToString())
}

// OpenFile implements os.OpenFile for this path.
func (p AbsoluteSystemPath) OpenFile(flags int, mode os.FileMode) (*os.File, error) {
	return os.OpenFile(p.ToString(), flags, mode)
}

// Create implements os.Create for this path.
func (p AbsoluteSystemPath) Create() (*os.File, error) {
	return os.Create(p.ToString())
}

// ReadFile reads the entire contents of this path.
func (p AbsoluteSystemPath) ReadFile() ([]byte, error) {
	return os.ReadFile(p.ToString())
}

// Readlink implements os.Readlink for this path.
func (p AbsoluteSystemPath) Readlink() (string, error) {
	return os.Readlink(p.ToString())
}

// Symlink creates a symlink at this path pointing at target.
func (p AbsoluteSystemPath) Symlink(target string) error {
	return os.Symlink(target, p.ToString())
}

// Remove removes this path.
func (p AbsoluteSystemPath) Remove() error {
	return os.Remove(p.ToString())
}

// RemoveAll removes this path and any children.
func (p AbsoluteSystemPath) RemoveAll() error {
	return os.RemoveAll(p.ToString())
}

// Rename moves this path to dest.
func (p AbsoluteSystemPath) Rename(dest AbsoluteSystemPath) error {
	return os.Rename(p.ToString(), dest.ToString())
}

// FileExists reports whether this path exists and is not a directory.
func (p AbsoluteSystemPath) FileExists() bool {
	info, err := os.Lstat(p.ToString())
	return err == nil && !info.IsDir()
}

// DirExists reports whether this path exists and is a directory.
func (p AbsoluteSystemPath) DirExists() bool {
	info, err := os.Lstat(p.ToString())
	return err == nil && info.IsDir()
}
