package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// FilesystemMapper implements Mapper by writing blobs to local disk. It is
// intended for development and single-node deployments; the DurableURL it
// returns is served by the deployment's static file host.
type FilesystemMapper struct {
	baseDir   string
	publicURL string
}

// NewFilesystemMapper creates a mapper rooted at baseDir. When publicURL is
// empty, file:// URLs pointing at the absolute path are produced.
func NewFilesystemMapper(baseDir, publicURL string) (*FilesystemMapper, error) {
	if baseDir == "" {
		baseDir = "data/artifacts"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FilesystemMapper{baseDir: baseDir, publicURL: publicURL}, nil
}

// Upload writes the payload under its content hash. Re-uploading identical
// bytes lands on the same key, which keeps retried jobs idempotent at the
// blob level.
func (m *FilesystemMapper) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if len(req.Data) == 0 {
		return UploadResult{}, fmt.Errorf("storage: empty payload for %s", req.Name)
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])
	key := filepath.ToSlash(filepath.Join("artifacts", hash[:2], hash+extensionFor(req.ContentType)))

	path := filepath.Join(m.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("ensure artifact dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, req.Data, 0o644); err != nil {
		return UploadResult{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return UploadResult{}, fmt.Errorf("finalize artifact: %w", err)
	}

	return UploadResult{
		StorageKey:  key,
		DurableURL:  m.urlFor(key, path),
		ContentHash: hash,
		SizeBytes:   uint64(len(req.Data)),
	}, nil
}

// Delete removes a blob.
func (m *FilesystemMapper) Delete(ctx context.Context, storageKey string) error {
	path := filepath.Join(m.baseDir, filepath.FromSlash(storageKey))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (m *FilesystemMapper) urlFor(key, absPath string) string {
	if m.publicURL == "" {
		abs, err := filepath.Abs(absPath)
		if err != nil {
			abs = absPath
		}
		return "file://" + filepath.ToSlash(abs)
	}
	joined, err := url.JoinPath(m.publicURL, key)
	if err != nil {
		return m.publicURL + "/" + key
	}
	return joined
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	default:
		return ""
	}
}

var _ Mapper = (*FilesystemMapper)(nil)
