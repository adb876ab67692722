package trust

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/perceptual-video/pvstream/internal/logger"
)

// Publisher makes the producer's identity available to consumers
type Publisher interface {
	Publish(id *Identity) error
}

// FilePublisher writes the certificate as PEM to Path. The file is
// replaced atomically so a consumer never reads a partial certificate.
type FilePublisher struct {
	Path string
}

// Publish writes the certificate to a temporary file and renames it into place
func (p FilePublisher) Publish(id *Identity) error {
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create trust directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp trust file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(id.PEM()); err != nil {
		tmp.Close()
		return fmt.Errorf("write trust file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod trust file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close trust file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return fmt.Errorf("publish trust file: %w", err)
	}

	logger.Info("Trust", "Published certificate to %s (expires %s)", p.Path, id.Leaf.NotAfter.Format("2006-01-02 15:04:05"))
	return nil
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(id *Identity) error

// Publish calls f(id)
func (f PublisherFunc) Publish(id *Identity) error { return f(id) }
