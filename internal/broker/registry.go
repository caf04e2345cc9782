package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ServerConfig is one entry in the tool-server registry file. The
// list is validated upstream; the broker only consumes it.
type ServerConfig struct {
	// ID uniquely names the server.
	ID string `yaml:"server_id"`
	// Transport is "stdio" (subprocess pipe) or "sse" (local endpoint).
	Transport string `yaml:"transport"`
	// Command and Args launch a stdio server.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	// Env extends the subprocess environment, KEY=VALUE entries.
	Env []string `yaml:"env,omitempty"`
	// URL is the endpoint of an sse server.
	URL string `yaml:"url,omitempty"`
	// Enabled gates the entry. Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled returns true unless the entry is explicitly disabled.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type registryFile struct {
	Servers []ServerConfig `yaml:"servers"`
}

// Registry holds the known tool servers and reloads itself when the
// registry file changes on disk.
type Registry struct {
	path string

	mu      sync.RWMutex
	servers []ServerConfig

	onChange func()
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// LoadRegistry reads the registry file. A missing file yields an
// empty registry so a fresh install can start before any servers are
// configured.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		done: make(chan struct{}),
	}
	if err := r.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return r, nil
}

// reload re-reads the registry file and swaps in the new server list.
func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", r.path, err)
	}

	servers := make([]ServerConfig, 0, len(file.Servers))
	for _, s := range file.Servers {
		if s.ID == "" {
			continue
		}
		servers = append(servers, s)
	}

	r.mu.Lock()
	r.servers = servers
	r.mu.Unlock()
	return nil
}

// Servers returns the enabled servers in file order.
func (r *Registry) Servers() []ServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerConfig, 0, len(r.servers))
	for _, s := range r.servers {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the enabled server with the given id.
func (r *Registry) Get(id string) (ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.servers {
		if s.ID == id && s.IsEnabled() {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// OnChange registers a callback invoked after every successful reload.
// Must be called before Watch.
func (r *Registry) OnChange(fn func()) {
	r.onChange = fn
}

// Watch starts watching the registry file's directory and reloads on
// change. Watching the directory rather than the file survives the
// rename-and-replace most editors do.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				continue
			}
			if r.onChange != nil {
				r.onChange()
			}
		case <-r.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// Close stops the watcher.
func (r *Registry) Close() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
}
