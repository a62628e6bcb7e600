package epine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"

	"github.com/epine-build/epine/pkg/output"
)

// WriteFile replaces path with text. The content is written to a temporary file next to path
// and renamed over it; an unchanged file is left alone so make doesn't see a new timestamp.
func WriteFile(ctx context.Context, path, text string) error {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, []byte(text)) {
		output.Log(ctx).Debug().Str("path", path).Msg("Output is up to date")
		return nil
	}

	tmpPath := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"-"+nanoid.New()+".tmp")
	handle, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", tmpPath)
	}

	_, err = handle.WriteString(text)
	if err == nil {
		err = handle.Close()
	} else {
		handle.Close()
	}
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to write %s", tmpPath)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to replace %s", path)
	}

	output.Log(ctx).Info().Str("path", path).Msg("Wrote build file")
	return nil
}
