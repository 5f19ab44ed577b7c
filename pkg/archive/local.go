package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/ethpandaops/importoor/pkg/fsutil"
)

type localArchiver struct {
	log   logrus.FieldLogger
	dir   string
	owner *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Archiver = (*localArchiver)(nil)

// NewLocal creates an archiver writing into cfg.Directory.
func NewLocal(log logrus.FieldLogger, cfg *config.LocalArchiveConfig) (Archiver, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing archive owner: %w", err)
	}

	dir, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("resolving archive directory: %w", err)
	}

	if err := fsutil.MkdirAll(dir, 0o755, owner); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	return &localArchiver{
		log:   log.WithField("component", "local-archive"),
		dir:   dir,
		owner: owner,
	}, nil
}

// Archive writes data to <dir>/<fileName>.csv. Readers never observe a
// partially written file.
func (a *localArchiver) Archive(ctx context.Context, fileName string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := objectName(fileName)
	if err != nil {
		return err
	}

	target := filepath.Join(a.dir, name)

	if err := fsutil.WriteFileAtomic(target, data, 0o644, a.owner); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}

	a.log.WithField("path", target).Debug("Archived file")

	return nil
}
