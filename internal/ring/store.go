// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ring

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrChunkNotFound is the typed not-found error every read path surfaces to
// its caller; the store never enumerates the filesystem as authoritative,
// so a miss here always means "no such chunk", not "don't know yet".
var ErrChunkNotFound = errors.New("ring: chunk not found")

// ChunkStore is the on-disk layout for one peer: owned chunks under
// content/, the mirrored chunks of this peer's successor under backup/.
// Writes land in a temporary sibling file and are renamed into place so a
// reader never observes a partially written chunk.
type ChunkStore struct {
	contentDir string
	backupDir  string
}

// NewChunkStore creates the content/ and backup/ directories under baseDir
// (nodes/<port>/) if they don't already exist.
func NewChunkStore(baseDir string) (*ChunkStore, error) {
	contentDir := filepath.Join(baseDir, "content")
	backupDir := filepath.Join(baseDir, "backup")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	return &ChunkStore{contentDir: contentDir, backupDir: backupDir}, nil
}

// ChunkFileName renders "<name>.part-<NNN>-of-<MMM>". partIndex is 1-based;
// NNN is zero-padded to the digit width of parts.
func ChunkFileName(name string, partIndex, parts int) string {
	width := len(strconv.Itoa(parts))
	return fmt.Sprintf("%s.part-%0*d-of-%d", name, width, partIndex, parts)
}

// WriteContent atomically writes exactly size bytes read from r as chunk in
// content/.
func (s *ChunkStore) WriteContent(chunk string, r io.Reader, size int64) error {
	return atomicWrite(s.contentDir, chunk, r, size)
}

// WriteBackup atomically writes exactly size bytes read from r as chunk in
// backup/.
func (s *ChunkStore) WriteBackup(chunk string, r io.Reader, size int64) error {
	return atomicWrite(s.backupDir, chunk, r, size)
}

// OpenContent opens a chunk for reading from content/. The caller must
// Close the returned file.
func (s *ChunkStore) OpenContent(chunk string) (*os.File, int64, error) {
	return openChunk(s.contentDir, chunk)
}

// OpenBackup opens a chunk for reading from backup/.
func (s *ChunkStore) OpenBackup(chunk string) (*os.File, int64, error) {
	return openChunk(s.backupDir, chunk)
}

func atomicWrite(dir, chunk string, r io.Reader, size int64) error {
	if err := validateChunkName(chunk); err != nil {
		return err
	}
	finalPath := filepath.Join(dir, chunk)
	if err := validatePathInBaseDir(dir, finalPath); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp chunk file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.CopyN(tmp, r, size); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing chunk %s: %w", chunk, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp chunk file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming chunk %s into place: %w", chunk, err)
	}
	return nil
}

func openChunk(dir, chunk string) (*os.File, int64, error) {
	if err := validateChunkName(chunk); err != nil {
		return nil, 0, err
	}
	path := filepath.Join(dir, chunk)
	if err := validatePathInBaseDir(dir, path); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrChunkNotFound
		}
		return nil, 0, fmt.Errorf("opening chunk %s: %w", chunk, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat chunk %s: %w", chunk, err)
	}
	return f, info.Size(), nil
}

// validateChunkName rejects a chunk file name that escapes its directory
// via path separators, since the name is built from a client-supplied file
// name elsewhere in the pipeline.
func validateChunkName(chunk string) error {
	if chunk == "" {
		return fmt.Errorf("chunk name cannot be empty")
	}
	if strings.ContainsAny(chunk, "/\\") {
		return fmt.Errorf("chunk name contains path separator")
	}
	if chunk == "." || chunk == ".." {
		return fmt.Errorf("chunk name contains path traversal")
	}
	return nil
}
