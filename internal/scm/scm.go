// Package scm abstracts operations on version control systems.
// Currently, only git is supported.
//
// Adapted from https://github.com/thought-machine/please/tree/master/src/scm
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package scm

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/polykit-dev/polykit/internal/turbopath"
)

// ErrFallback is returned by FromInRepo when no supported SCM is found at the
// requested root. Callers may still use the returned stub implementation, but
// any affected-set computation that depends on it should be treated as
// "everything changed".
var ErrFallback = errors.New("cannot find a .git directory; falling back to a no-op SCM. --affected will treat every package as changed")

// SCM is the set of version-control operations a Workspace needs in order to
// compute an affected-package set from a git ref.
type SCM interface {
	// ChangedFiles returns the set of paths (relative to relativeTo) that differ
	// between fromCommit and toCommit, plus any untracked files, when fromCommit
	// is non-empty. When fromCommit is empty, only the working tree diff against
	// toCommit (plus untracked files) is returned.
	ChangedFiles(fromCommit string, toCommit string, relativeTo string) ([]string, error)
	// PreviousContent returns the content of filePath as of fromCommit.
	PreviousContent(fromCommit string, filePath string) ([]byte, error)
}

// New returns an SCM implementation rooted at repoRoot, or nil if repoRoot is
// not inside a git repository.
func New(repoRoot turbopath.AbsoluteSystemPath) SCM {
	if _, err := os.Stat(filepath.Join(repoRoot.ToString(), ".git")); err == nil {
		return &git{repoRoot: repoRoot}
	}
	return nil
}

// NewFallback returns an SCM implementation rooted at repoRoot. If no
// supported SCM is found, it returns a stub along with ErrFallback so the
// caller can decide how to degrade.
func NewFallback(repoRoot turbopath.AbsoluteSystemPath) (SCM, error) {
	if found := New(repoRoot); found != nil {
		return found, nil
	}
	return &stub{}, ErrFallback
}
