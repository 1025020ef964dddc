// Package builder builds images from git repositories before deployment.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"

	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/logging"
)

// DefaultDockerfile is used when a request names no Dockerfile.
const DefaultDockerfile = "Dockerfile"

var _ ports.BuilderService = (*Adapter)(nil)

type Adapter struct {
	cli *client.Client
}

func NewBuilderAdapter(opts ...client.Opt) (*Adapter, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// BuildImage clones repoURL and builds imageName from the Dockerfile at
// dockerfile inside the clone.
func (a *Adapter) BuildImage(ctx context.Context, repoURL, dockerfile, imageName string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "lab-build-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	logging.Info("cloning repository", "url", repoURL, "dir", tmpDir)
	var progress io.Writer
	if logging.Verbose {
		progress = os.Stderr
	}
	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: progress,
		Depth:    1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to clone repo: %w", err)
	}

	rel, err := ResolveDockerfile(tmpDir, dockerfile)
	if err != nil {
		return "", err
	}

	buildCtx, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{ExcludePatterns: []string{".git"}})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildCtx.Close()

	logging.Info("building image", "image", imageName, "dockerfile", rel)
	resp, err := a.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{imageName},
		Dockerfile:  rel,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The stream carries build step failures as error messages.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}

	return imageName, nil
}

func (a *Adapter) Close() error {
	return a.cli.Close()
}

// ResolveDockerfile confines dockerfile to root and returns its path
// relative to root. The file must exist.
func ResolveDockerfile(root, dockerfile string) (string, error) {
	if dockerfile == "" {
		dockerfile = DefaultDockerfile
	}
	full, err := securejoin.SecureJoin(root, dockerfile)
	if err != nil {
		return "", fmt.Errorf("invalid dockerfile path %q: %w", dockerfile, err)
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("dockerfile %q not found in repository", dockerfile)
	}
	if info.IsDir() {
		return "", fmt.Errorf("dockerfile %q is a directory", dockerfile)
	}
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", fmt.Errorf("invalid dockerfile path %q: %w", dockerfile, err)
	}
	return filepath.ToSlash(rel), nil
}
