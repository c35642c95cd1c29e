package cacheitem

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"

	"github.com/polykit-dev/polykit/internal/turbopath"
)

// cachedDirTree memoizes the deepest directory prefix that has already been
// checked and created during a restore, so that siblings under the same
// parent don't re-walk and re-lstat segments from the restore anchor.
type cachedDirTree struct {
	anchorAtDepth []turbopath.AbsoluteSystemPath
	prefix        []turbopath.RelativeSystemPath
}

// getStartingPoint returns the deepest cached anchor that shares a prefix
// with path, along with the remaining path segments still to be checked and
// created from that anchor.
func (cache *cachedDirTree) getStartingPoint(path turbopath.AnchoredSystemPath) (turbopath.AbsoluteSystemPath, []turbopath.RelativeSystemPath) {
	pathSegments := strings.Split(path.ToString(), string(os.PathSeparator))

	shared := 0
	for shared < len(pathSegments) && shared < len(cache.prefix) && pathSegments[shared] == cache.prefix[shared].ToString() {
		shared++
	}

	remaining := make([]turbopath.RelativeSystemPath, 0, len(pathSegments)-shared)
	for _, segment := range pathSegments[shared:] {
		remaining = append(remaining, turbopath.RelativeSystemPath(segment))
	}

	return cache.anchorAtDepth[shared], remaining
}

// restoreDirectory restores a directory.
func restoreDirectory(dirCache *cachedDirTree, anchor turbopath.AbsoluteSystemPath, header *tar.Header) (turbopath.AnchoredSystemPath, error) {
	processedName, err := canonicalizeName(header.Name)
	if err != nil {
		return "", err
	}

	// We need to traverse `processedName` from base to root split at
	// `os.Separator` to make sure we don't end up following a symlink
	// outside of the restore path.

	// Create the directory.
	if err := safeMkdirAll(dirCache, anchor, processedName, header.Mode); err != nil {
		return "", err
	}

	return processedName, nil
}

// safeMkdirAll creates all directories, assuming that the leaf node is a directory.
func safeMkdirAll(dirCache *cachedDirTree, anchor turbopath.AbsoluteSystemPath, processedName turbopath.AnchoredSystemPath, mode int64) error {
	// Reuse whatever prefix of this path we've already verified, instead of
	// walking and lstat-ing every segment from the restore anchor again.
	calculatedAnchor, pathSegments := dirCache.getStartingPoint(processedName)

	allSegments := strings.Split(processedName.ToString(), string(os.PathSeparator))
	sharedDepth := len(allSegments) - len(pathSegments)

	anchorAtDepth := make([]turbopath.AbsoluteSystemPath, sharedDepth+1, len(allSegments)+1)
	copy(anchorAtDepth, dirCache.anchorAtDepth[:sharedDepth+1])

	for _, segment := range pathSegments {
		var checkPathErr error
		calculatedAnchor, checkPathErr = checkPath(anchor, calculatedAnchor, segment)
		// We hit an existing directory or absolute path that was invalid.
		if checkPathErr != nil {
			return checkPathErr
		}
		anchorAtDepth = append(anchorAtDepth, calculatedAnchor)
	}

	prefix := make([]turbopath.RelativeSystemPath, len(allSegments))
	for i, segment := range allSegments {
		prefix[i] = turbopath.RelativeSystemPath(segment)
	}
	dirCache.anchorAtDepth = anchorAtDepth
	dirCache.prefix = prefix

	// If we have made it here we know that it is safe to call os.MkdirAll
	// on the Join of anchor and processedName.
	//
	// This could _still_ error, but we don't care.
	return processedName.RestoreAnchor(anchor).MkdirAll(os.FileMode(mode))
}

// checkPath ensures that the resolved path (if restoring symlinks).
// It makes sure to never traverse outside of the anchor.
func checkPath(originalAnchor turbopath.AbsoluteSystemPath, accumulatedAnchor turbopath.AbsoluteSystemPath, segment turbopath.RelativeSystemPath) (turbopath.AbsoluteSystemPath, error) {
	// Check if the segment itself is sneakily an absolute path...
	// (looking at you, Windows. CON, AUX...)
	if filepath.IsAbs(segment.ToString()) {
		return "", errTraversal
	}

	// Find out if this portion of the path is a symlink.
	combinedPath := accumulatedAnchor.Join(segment)
	fileInfo, err := combinedPath.Lstat()

	// Getting an error here means we failed to stat the path.
	// Assume that means we're safe and continue.
	if err != nil {
		return combinedPath, nil
	}

	// Find out if we have a symlink.
	isSymlink := fileInfo.Mode()&os.ModeSymlink != 0

	// If we don't have a symlink it's safe.
	if !isSymlink {
		return combinedPath, nil
	}

	// Check to see if the symlink targets outside of the originalAnchor.
	// We don't do eval symlinks because we could find ourself in a totally
	// different place.

	// 1. Get the target.
	linkTarget, readLinkErr := combinedPath.Readlink()
	if readLinkErr != nil {
		return "", readLinkErr
	}

	// 2. See if the target is absolute.
	if filepath.IsAbs(linkTarget) {
		if strings.HasPrefix(linkTarget, originalAnchor.ToString()) {
			return turbopath.AbsoluteSystemPath(linkTarget), nil
		}
		return "", errTraversal
	}

	// 3. Target is relative (or absolute Windows on a Unix device)
	computedTarget := filepath.Join(accumulatedAnchor.ToString(), linkTarget)
	if strings.HasPrefix(computedTarget, originalAnchor.ToString()) {
		return turbopath.AbsoluteSystemPath(computedTarget), nil
	}

	return "", errTraversal
}
