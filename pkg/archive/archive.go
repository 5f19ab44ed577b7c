// Package archive keeps the raw content of successfully imported files.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/importoor/pkg/config"
)

// Extension is appended to the file name of every archived object.
const Extension = ".csv"

// Archiver stores the raw content of an imported file under its logical
// file name, replacing any earlier copy.
type Archiver interface {
	Archive(ctx context.Context, fileName string, data []byte) error
}

// Noop discards everything.
type Noop struct{}

// Archive implements Archiver.
func (Noop) Archive(context.Context, string, []byte) error {
	return nil
}

// New returns the archiver enabled in cfg, or Noop when none is.
func New(log logrus.FieldLogger, cfg *config.ArchiveConfig) (Archiver, error) {
	if cfg == nil {
		return Noop{}, nil
	}

	switch {
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocal(log, cfg.Local)
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3(log, cfg.S3)
	default:
		return Noop{}, nil
	}
}

// objectName returns the base name an archived file is stored under.
func objectName(fileName string) (string, error) {
	name := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if name == "." || name == "/" || name == ".." || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid file name %q", fileName)
	}

	return name + Extension, nil
}
