package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ucaep.org/internal/content"
)

// DiskUploader writes uploaded files to a local directory. It backs detached
// deployments where no object store is reachable.
type DiskUploader struct {
	root    string
	baseURL string
}

// NewDiskUploader ensures the root directory exists. baseURL is the public
// prefix under which the directory is served, e.g. "/static".
func NewDiskUploader(root, baseURL string) (*DiskUploader, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("upload: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root: %w", err)
	}
	return &DiskUploader{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes the file under root/folder/uuid.ext and returns its URL path.
func (u *DiskUploader) Upload(_ context.Context, up content.FileUpload) (string, error) {
	if len(up.Data) == 0 {
		return "", errors.New("upload: empty file")
	}
	key := objectKey(up.Folder, up.Name)
	full := filepath.Join(u.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create upload folder: %w", err)
	}
	if err := os.WriteFile(full, up.Data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return u.baseURL + "/" + key, nil
}
