/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractSongPackage unpacks a zipped audio+CDG pair into destDir and
// returns the audio and graphics paths. The archive must contain exactly
// one audio file and one .cdg sharing the same base name.
func extractSongPackage(zipPath, destDir string) (audio, cdg string, err error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: open package %s: %v", ErrResolution, filepath.Base(zipPath), err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create extract dir: %w", err)
	}

	var audioFiles, cdgFiles []string
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		target, err := safeExtractPath(destDir, entry.Name)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrResolution, err)
		}
		if err := extractEntry(entry, target); err != nil {
			return "", "", fmt.Errorf("%w: extract %s: %v", ErrResolution, entry.Name, err)
		}

		switch ext := strings.ToLower(filepath.Ext(entry.Name)); {
		case ext == ".cdg":
			cdgFiles = append(cdgFiles, target)
		case splitAudioExts[ext]:
			audioFiles = append(audioFiles, target)
		}
	}

	if len(audioFiles) != 1 || len(cdgFiles) != 1 {
		return "", "", fmt.Errorf("%w: package %s must contain exactly one audio file and one cdg (got %d audio, %d cdg)",
			ErrResolution, filepath.Base(zipPath), len(audioFiles), len(cdgFiles))
	}

	audioBase := strings.TrimSuffix(filepath.Base(audioFiles[0]), filepath.Ext(audioFiles[0]))
	cdgBase := strings.TrimSuffix(filepath.Base(cdgFiles[0]), filepath.Ext(cdgFiles[0]))
	if !strings.EqualFold(audioBase, cdgBase) {
		return "", "", fmt.Errorf("%w: package %s audio %q and cdg %q do not share a base name",
			ErrResolution, filepath.Base(zipPath), audioBase, cdgBase)
	}

	return audioFiles[0], cdgFiles[0], nil
}

func extractEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// safeExtractPath resolves an archive entry name inside destDir,
// rejecting absolute paths and traversal outside the destination.
func safeExtractPath(destDir, entryName string) (string, error) {
	clean := filepath.Clean(entryName)
	if clean == "." || clean == "" {
		return "", fmt.Errorf("invalid archive entry path %q", entryName)
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute archive entry path %q is not allowed", entryName)
	}

	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return "", fmt.Errorf("resolve destination root: %w", err)
	}
	targetAbs, err := filepath.Abs(filepath.Join(destAbs, clean))
	if err != nil {
		return "", fmt.Errorf("resolve archive entry path: %w", err)
	}
	rel, err := filepath.Rel(destAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("verify archive entry path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry path %q escapes destination", entryName)
	}
	return targetAbs, nil
}
