package syncer

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	syncerrors "github.com/marksync/marksync/internal/errors"
	"github.com/marksync/marksync/internal/models"
)

// debounceDelay coalesces the burst of filesystem events a single UI
// save produces into one trigger.
const debounceDelay = 500 * time.Millisecond

// Watcher triggers an on-demand cycle when the UI process edits the
// dataset files. Events for the engine's own downloads also arrive
// here; the resulting cycle short-circuits to a noop, so they are not
// filtered out.
type Watcher struct {
	dir       string
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewWatcher creates a watcher over the data directory.
func NewWatcher(dir string, scheduler *Scheduler, logger *slog.Logger) *Watcher {
	return &Watcher{dir: dir, scheduler: scheduler, logger: logger}
}

// Watch blocks, debouncing change events and triggering a cycle after
// each quiet period, until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info("watching data directory", slog.String("dir", w.dir))

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("dataset file changed",
				slog.String("file", filepath.Base(event.Name)),
				slog.String("op", event.Op.String()),
			)

			if pending && !debounce.Stop() {
				<-debounce.C
			}

			debounce.Reset(debounceDelay)
			pending = true

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-debounce.C:
			pending = false

			if _, err := w.scheduler.TriggerNow(ctx); err != nil {
				if errors.Is(err, syncerrors.ErrSyncInProgress) {
					w.logger.Debug("change trigger skipped, sync in progress")

					continue
				}

				return err
			}
		}
	}
}

// relevant reports whether an event concerns one of the collection
// files. Temp files from atomic writes and unrelated files are ignored.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") {
		return false
	}

	for _, c := range models.Collections() {
		if name == c.Resource() {
			return true
		}
	}

	return false
}
