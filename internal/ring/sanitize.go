// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLength bounds a pushed file's name.
const maxNameLength = 255

// validateFileName checks that a client-supplied file name is safe to use
// as a path component when building chunk file names. Prevents path
// traversal through a crafted FILE PUSH/PULL name.
func validateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("file name exceeds max length %d", maxNameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("file name contains path separator")
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("file name contains null byte")
	}
	if name == "." || name == ".." || strings.HasPrefix(name, "..") {
		return fmt.Errorf("file name contains path traversal")
	}
	return nil
}

// validatePathInBaseDir defends in depth against path traversal by
// confirming the resolved path still lives under baseDir.
func validatePathInBaseDir(baseDir, resolvedPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolving base dir: %w", err)
	}
	absResolved, err := filepath.Abs(resolvedPath)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	rel, err := filepath.Rel(absBase, absResolved)
	if err != nil {
		return fmt.Errorf("path escapes base directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes base directory %q", resolvedPath, baseDir)
	}
	return nil
}
