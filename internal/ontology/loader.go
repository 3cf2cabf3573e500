package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Load parses every *.toml file in dir into a single Ontology. Files
// are merged: later files' entity/reference entries overwrite earlier
// ones with the same key, fk lists concatenate.
func Load(dir string) (*Ontology, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading ontology directory %s: %w", dir, err)
	}

	merged := file{
		Entity:    map[string]EntityDef{},
		Reference: map[string]ReferenceTable{},
	}
	found := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		found = true
		path := filepath.Join(dir, e.Name())
		var f file
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("decoding ontology file %s: %w", path, err)
		}
		for k, v := range f.Entity {
			merged.Entity[k] = v
		}
		for k, v := range f.Reference {
			merged.Reference[k] = v
		}
		merged.Fk = append(merged.Fk, f.Fk...)
	}
	if !found {
		return nil, fmt.Errorf("no *.toml files found in ontology directory %s", dir)
	}

	return newOntology(merged), nil
}

// Watcher holds the current Ontology snapshot and hot-reloads it on
// file-system changes to its source directory. Readers call Current()
// to grab the snapshot pinned for the duration of one compile; a
// reload swapping the atomic pointer never mutates an Ontology a
// caller already holds, so in-flight compiles are unaffected.
type Watcher struct {
	dir     string
	log     logr.Logger
	current atomic.Pointer[Ontology]
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads the ontology from dir and starts watching it for
// changes. Callers must call Close when done.
func NewWatcher(dir string, log logr.Logger) (*Watcher, error) {
	o, err := Load(dir)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating ontology file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching ontology directory %s: %w", dir, err)
	}

	w := &Watcher{dir: dir, log: log, fsw: fsw, done: make(chan struct{})}
	w.current.Store(o)
	go w.run()
	return w, nil
}

// Current returns the ontology snapshot to pin for one compile.
func (w *Watcher) Current() *Ontology {
	return w.current.Load()
}

// Close stops the background watch goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".toml") {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "ontology file watcher error")
		}
	}
}

func (w *Watcher) reload() {
	o, err := Load(w.dir)
	if err != nil {
		w.log.Error(err, "ontology hot-reload failed, keeping prior snapshot")
		return
	}
	w.current.Store(o)
	w.log.Info("ontology snapshot reloaded", "dir", w.dir)
}
