package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/errors"
)

// Upload sends the media file at path to the upload endpoint called name and
// returns the media file code the server assigned.
func (s *Syncer) Upload(ctx context.Context, name, path string) (string, error) {
	u, ok := s.catalog.FindUpload(name)
	if !ok {
		return "", errors.WrapError(fmt.Errorf("unknown upload %q", name), errors.ErrConfiguration, "upload")
	}
	if path == "" {
		return "", errors.WrapError(fmt.Errorf("no file given (use --parameter)"), errors.ErrConfiguration, "upload")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.WrapError(err, errors.ErrStorage, "open media file")
	}
	defer f.Close()

	code, err := s.client.Upload(ctx, u.Path, u.CodeHeader, filepath.Base(path), f)
	if err != nil {
		return "", err
	}

	s.log.Info("media file uploaded",
		zap.String("upload", u.Name),
		zap.String("file", path),
		zap.String("code", code),
	)
	return code, nil
}
