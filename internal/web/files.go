package web

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tuannvm/ado-ai/internal/models"
)

// ErrPathTraversal is returned for file changes that resolve outside the
// work folder.
var ErrPathTraversal = errors.New("path traversal detected, file must be within work folder")

// FileResult is the outcome of writing one proposed file.
type FileResult struct {
	Path        string `json:"path"`
	Success     bool   `json:"success"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`
}

// resolveInFolder joins rel onto folder and rejects results outside folder.
// Symlinked folders are resolved first so the check compares real paths.
func resolveInFolder(folder, rel string) (string, error) {
	if rel == "" {
		return "", errors.New("missing path")
	}
	if filepath.IsAbs(rel) {
		return "", ErrPathTraversal
	}
	root, err := filepath.EvalSymlinks(folder)
	if err != nil {
		return "", fmt.Errorf("resolving work folder: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return "", err
	}

	target := filepath.Join(root, filepath.FromSlash(rel))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return target, nil
}

// writeFileChange writes one file change under folder, creating parent
// directories as needed.
func writeFileChange(folder string, fc models.FileChange) (string, error) {
	target, err := resolveInFolder(folder, fc.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return target, fmt.Errorf("creating directories: %w", err)
	}
	if err := os.WriteFile(target, []byte(fc.Content), 0o644); err != nil {
		return target, fmt.Errorf("writing file: %w", err)
	}
	return target, nil
}
