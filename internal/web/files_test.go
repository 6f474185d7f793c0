package web

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/ado-ai/internal/models"
)

func TestResolveInFolder(t *testing.T) {
	root := t.TempDir()
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr error
	}{
		{name: "nested file", rel: "src/main.go", want: filepath.Join(realRoot, "src", "main.go")},
		{name: "dot segments inside", rel: "src/../README.md", want: filepath.Join(realRoot, "README.md")},
		{name: "escape with dot dot", rel: "../outside.txt", wantErr: ErrPathTraversal},
		{name: "deep escape", rel: "a/../../outside.txt", wantErr: ErrPathTraversal},
		{name: "absolute path", rel: "/etc/passwd", wantErr: ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveInFolder(root, tt.rel)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = resolveInFolder(root, "")
	assert.Error(t, err)
}

func TestWriteFileChange(t *testing.T) {
	root := t.TempDir()

	target, err := writeFileChange(root, models.FileChange{Path: "deep/nested/file.txt", Content: "hello"})
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = writeFileChange(root, models.FileChange{Path: "../escape.txt", Content: "x"})
	assert.ErrorIs(t, err, ErrPathTraversal)
}
