package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	out := filepath.Join(tmp, "out")
	elsewhere := filepath.Join(tmp, "elsewhere")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.MkdirAll(elsewhere, 0o755))
	link := filepath.Join(out, "link")
	require.NoError(t, os.Symlink(elsewhere, link))

	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{"cluster file", filepath.Join(out, "cluster0.pcd"), out, false},
		{"nested new dir", filepath.Join(out, "a", "b", "c.png"), out, false},
		{"dir itself", out, out, false},
		{"dir not created yet", filepath.Join(tmp, "later", "x.pcd"), filepath.Join(tmp, "later"), false},
		{"dot dot", filepath.Join(out, "..", "cluster0.pcd"), out, true},
		{"relative escape", "../../../etc/passwd", out, true},
		{"absolute outside", "/etc/passwd", out, true},
		{"through symlink", filepath.Join(link, "cluster0.pcd"), out, true},
		{"symlink itself", link, out, true},
		{"sibling with common prefix", out + "-old/cluster0.pcd", out, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"scene_01.pcd":     "scene_01.pcd",
		"my scene (2)":     "my_scene_2",
		"../../etc/passwd": "etc_passwd",
		"":                 "unnamed",
		"___":              "unnamed",
		"a//b":             "a_b",
		"x~y":              "x_y",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("x", 300)), 128)
}
