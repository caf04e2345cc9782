package orchestrator

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/banyanhq/banyan/pkg/models"
)

// Signal file names recognised in a run's signals directory. Sentinel
// files are consumed (deleted) once acted on.
const (
	signalCancel = "cancel"
	signalPause  = "pause"
	signalResume = "resume"
	// feedbackPrefix marks drop files named feedback-<node-id>.json whose
	// body is a models.Verdict.
	feedbackPrefix = "feedback-"
)

// WatchSignals watches dir for operator signal files: cancel, pause and
// resume sentinels, and feedback drop files. The watcher stops when the
// run ends. Files already present at startup are applied first.
func (r *Run) WatchSignals(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	// Catch signals dropped before the watch began.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, entry := range entries {
			r.applySignal(filepath.Join(dir, entry.Name()))
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					r.applySignal(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.debugLog.Log("signal watcher error: %v", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// applySignal acts on one signal file and consumes it.
func (r *Run) applySignal(path string) {
	name := filepath.Base(path)
	switch {
	case name == signalCancel:
		r.consume(path)
		log.Printf("[orchestrator] run %s: cancel signal received", r.id)
		r.Cancel()
	case name == signalPause:
		r.consume(path)
		r.Pause()
	case name == signalResume:
		r.consume(path)
		r.Resume()
	case strings.HasPrefix(name, feedbackPrefix) && strings.HasSuffix(name, ".json"):
		nodeID := strings.TrimSuffix(strings.TrimPrefix(name, feedbackPrefix), ".json")
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		r.consume(path)

		var verdict models.Verdict
		if err := json.Unmarshal(data, &verdict); err != nil {
			r.debugLog.Log("feedback file %s: %v", name, err)
			return
		}
		if err := r.InjectFeedback(nodeID, verdict); err != nil {
			r.debugLog.Log("feedback file %s: %v", name, err)
		}
	}
}

func (r *Run) consume(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.debugLog.Log("consume signal %s: %v", path, err)
	}
}
