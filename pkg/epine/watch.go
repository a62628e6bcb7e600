package epine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"

	"github.com/epine-build/epine/pkg/output"
)

const watchDelay = 100 * time.Millisecond

// Watch generates the output once and again after every change in the input's directory until
// ctx is cancelled. Generation failures are logged, not returned.
func (g *Generator) Watch(ctx context.Context, inputPath, outputPath string, args []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to create watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(inputPath)
	err = watcher.Add(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", dir)
	}

	logger := output.Log(ctx)
	regenerate := func() {
		err := g.GenerateFile(ctx, inputPath, outputPath, args)
		if err != nil {
			logger.Error().Err(err).Msgf("Failed to generate %s", outputPath)
		}
	}

	regenerate()
	logger.Info().Str("dir", dir).Msg("Watching for changes")

	outputAbs, _ := filepath.Abs(outputPath)
	timer := time.NewTimer(watchDelay)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignoreEvent(event, outputAbs) {
				continue
			}

			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("File changed")
			// editors tend to produce several events per save
			timer.Reset(watchDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("Watcher error")
		case <-timer.C:
			regenerate()
		}
	}
}

func ignoreEvent(event fsnotify.Event, outputAbs string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}

	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return true
	}

	name, err := filepath.Abs(event.Name)
	return err == nil && name == outputAbs
}
