package port

import "context"

// FileStorage defines file storage operations. Paths are relative to the
// storage root.
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]string, error)
	GetFullPath(relativePath string) string
}
