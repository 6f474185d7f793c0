package web

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrPathNotAllowed means a path lies outside every browsable root.
	ErrPathNotAllowed = errors.New("path is outside allowed directories")
	// ErrPathNotFound means a browsed path does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrNotDirectory means a browsed path is a file.
	ErrNotDirectory = errors.New("path is not a directory")
)

// hiddenEntries are skipped when listing a directory.
var hiddenEntries = map[string]bool{
	"System": true, "Library": true, "Applications": true,
	"tmp": true, "proc": true, "sys": true, "dev": true,
}

// FileEntry is one directory entry.
type FileEntry struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	IsDirectory bool       `json:"is_directory"`
	Size        *int64     `json:"size,omitempty"`
	Modified    *time.Time `json:"modified,omitempty"`
}

// BrowseResult is a directory listing.
type BrowseResult struct {
	CurrentPath string      `json:"current_path"`
	ParentPath  *string     `json:"parent_path"`
	Entries     []FileEntry `json:"entries"`
}

// PathValidation reports whether a path can serve as a work folder.
type PathValidation struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// Browser lists directories below a fixed set of roots.
type Browser struct {
	roots []string
	home  string
}

// NewBrowser creates a Browser limited to roots. Roots that do not exist
// are ignored.
func NewBrowser(roots ...string) *Browser {
	b := &Browser{}
	for _, r := range roots {
		if r == "" {
			continue
		}
		resolved, err := filepath.EvalSymlinks(r)
		if err != nil {
			continue
		}
		abs, err := filepath.Abs(resolved)
		if err != nil {
			continue
		}
		b.roots = append(b.roots, abs)
	}
	if len(b.roots) > 0 {
		b.home = b.roots[0]
	}
	return b
}

// DefaultBrowseRoots returns the user's home directory followed by common
// project locations, plus any extra roots.
func DefaultBrowseRoots(extra ...string) []string {
	var roots []string
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, home)
	}
	roots = append(roots, "/Users", "/home", "/var/www", "/opt")
	return append(roots, extra...)
}

func (b *Browser) allowed(path string) bool {
	for _, r := range b.roots {
		if path == r || strings.HasPrefix(path, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (b *Browser) resolve(path string) (string, error) {
	if path == "" {
		path = b.home
	}
	if path == "" {
		return "", ErrPathNotAllowed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	} else if errors.Is(err, os.ErrNotExist) {
		if !b.allowed(abs) {
			return "", ErrPathNotAllowed
		}
		return "", fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if !b.allowed(abs) {
		return "", ErrPathNotAllowed
	}
	return abs, nil
}

// Browse lists path, or the first root when path is empty. Hidden and
// system entries are skipped; directories sort first.
func (b *Browser) Browse(path string) (*BrowseResult, error) {
	dir, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}

	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	res := &BrowseResult{CurrentPath: dir, Entries: []FileEntry{}}
	if parent := filepath.Dir(dir); parent != dir && b.allowed(parent) {
		res.ParentPath = &parent
	}

	for _, de := range des {
		name := de.Name()
		if strings.HasPrefix(name, ".") || hiddenEntries[name] {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		mod := fi.ModTime()
		e := FileEntry{Name: name, Path: filepath.Join(dir, name), IsDirectory: de.IsDir(), Modified: &mod}
		if !de.IsDir() {
			size := fi.Size()
			e.Size = &size
		}
		res.Entries = append(res.Entries, e)
	}
	sort.SliceStable(res.Entries, func(i, j int) bool {
		a, c := res.Entries[i], res.Entries[j]
		if a.IsDirectory != c.IsDirectory {
			return a.IsDirectory
		}
		return strings.ToLower(a.Name) < strings.ToLower(c.Name)
	})
	return res, nil
}

// ValidatePath reports whether path is an allowed, existing directory.
func (b *Browser) ValidatePath(path string) *PathValidation {
	dir, err := b.resolve(path)
	if err != nil {
		return &PathValidation{Message: validationMessage(err)}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return &PathValidation{Message: "path does not exist"}
	}
	if !info.IsDir() {
		return &PathValidation{Message: "path is not a directory"}
	}
	return &PathValidation{Valid: true, Message: "path is valid and accessible", Path: dir}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, ErrPathNotAllowed):
		return "path is outside allowed directories"
	case errors.Is(err, ErrPathNotFound):
		return "path does not exist"
	}
	return "invalid path: " + err.Error()
}

func browseStatus(err error) int {
	switch {
	case errors.Is(err, ErrPathNotAllowed), errors.Is(err, os.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotDirectory):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
