package builder

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDockerfile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "deploy", "web"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "deploy", "web", "Dockerfile.prod"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		dockerfile string
		want       string
		wantErr    bool
	}{
		{name: "default", dockerfile: "", want: "Dockerfile"},
		{name: "nested", dockerfile: "deploy/web/Dockerfile.prod", want: "deploy/web/Dockerfile.prod"},
		{name: "dot prefix", dockerfile: "./Dockerfile", want: "Dockerfile"},
		{name: "traversal stays inside root", dockerfile: "../../Dockerfile", want: "Dockerfile"},
		{name: "traversal to missing file", dockerfile: "../../etc/passwd", wantErr: true},
		{name: "missing", dockerfile: "Containerfile", wantErr: true},
		{name: "directory", dockerfile: "deploy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDockerfile(root, tt.dockerfile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveDockerfile(%q) error = %v, wantErr %v", tt.dockerfile, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ResolveDockerfile(%q) = %q, want %q", tt.dockerfile, got, tt.want)
			}
		})
	}
}

func TestResolveDockerfile_SymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "Dockerfile"), []byte("FROM scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	// link resolves as if root were /, so the outside file is not reachable
	if _, err := ResolveDockerfile(root, "link/Dockerfile"); err == nil {
		t.Error("ResolveDockerfile() should not follow a symlink out of the repository")
	}
}
