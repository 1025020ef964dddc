package ports

import "context"

// BuilderService defines operations for building container images from source code.
type BuilderService interface {
	// BuildImage clones a repository and builds an image from the Dockerfile
	// at dockerfile (relative to the repository root, empty for the default).
	// It returns the tag of the built image.
	BuildImage(ctx context.Context, repoURL, dockerfile, imageName string) (string, error)
}
