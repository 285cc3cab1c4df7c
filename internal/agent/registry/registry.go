// Package registry manages the catalog of launchable agents, persisted as
// agents.json and hot-reloaded when the file changes on disk.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/events/bus"
)

// AgentDefinition is one launchable agent in the catalog.
type AgentDefinition struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// catalogFile is the on-disk shape of agents.json. A slice keeps the
// user's ordering stable across save/load cycles.
type catalogFile struct {
	Agents []AgentDefinition `json:"agents"`
}

// Registry holds the agent catalog and keeps it in sync with agents.json.
type Registry struct {
	mu     sync.RWMutex
	agents []AgentDefinition

	path    string
	watcher *fsnotify.Watcher
	// lastSave suppresses reloads triggered by our own writes.
	lastSave time.Time

	bus    bus.EventBus
	logger *logger.Logger

	done chan struct{}
}

// defaultAgents seeds a fresh catalog with the well-known ACP agents.
func defaultAgents() []AgentDefinition {
	return []AgentDefinition{
		{
			Name:    "GitHub Copilot",
			Command: "npx",
			Args:    []string{"@github/copilot-language-server@latest", "--acp"},
		},
		{
			Name:    "Claude Code",
			Command: "npx",
			Args:    []string{"@zed-industries/claude-code-acp@latest"},
		},
		{
			Name:    "Gemini CLI",
			Command: "npx",
			Args:    []string{"@google/gemini-cli@latest", "--experimental-acp"},
		},
		{
			Name:    "Qwen Code",
			Command: "npx",
			Args:    []string{"@qwen-code/qwen-code@latest", "--acp", "--experimental-skills"},
		},
	}
}

// New loads the catalog from path, seeding defaults when the file does not
// exist yet, and starts watching the file for external edits.
func New(path string, eventBus bus.EventBus, log *logger.Logger) (*Registry, error) {
	r := &Registry{
		path:   path,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "agent-registry")),
		done:   make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create config dir: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		r.agents = defaultAgents()
		if err := r.persist(); err != nil {
			return nil, err
		}
	} else {
		agents, err := loadCatalog(path)
		if err != nil {
			return nil, err
		}
		r.agents = agents
	}

	if err := r.startWatcher(); err != nil {
		// Hot reload is a convenience; the registry still works without it.
		r.logger.Warn("catalog file watching disabled", zap.Error(err))
	}

	return r, nil
}

func loadCatalog(path string) ([]AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read catalog: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: parse catalog: %w", err)
	}
	return file.Agents, nil
}

// persist writes the catalog under the registry lock.
func (r *Registry) persist() error {
	data, err := json.MarshalIndent(catalogFile{Agents: r.agents}, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal catalog: %w", err)
	}
	r.lastSave = time.Now()
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write catalog: %w", err)
	}
	return nil
}

func (r *Registry) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: editors replace files on save.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			r.reloadFromDisk()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}

func (r *Registry) reloadFromDisk() {
	r.mu.Lock()
	if time.Since(r.lastSave) < 500*time.Millisecond {
		// Our own save triggered the event.
		r.mu.Unlock()
		return
	}
	agents, err := loadCatalog(r.path)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("ignoring unreadable catalog edit", zap.Error(err))
		return
	}
	r.agents = agents
	r.mu.Unlock()

	r.logger.Info("agent catalog reloaded", zap.Int("agents", len(agents)))
	r.notifyChanged()
}

func (r *Registry) notifyChanged() {
	if r.bus == nil {
		return
	}
	event := bus.NewEvent("registry.changed", "agent-registry", map[string]interface{}{
		"agents": r.List(),
	})
	if err := r.bus.Publish(context.Background(), bus.SubjectRegistryChanged, event); err != nil {
		r.logger.Warn("failed to publish registry change", zap.Error(err))
	}
}

// List returns the catalog in stored order.
func (r *Registry) List() []AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentDefinition, len(r.agents))
	copy(out, r.agents)
	return out
}

// Get looks up an agent by name.
func (r *Registry) Get(name string) (AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// Add appends a new agent to the catalog.
func (r *Registry) Add(def AgentDefinition) error {
	if def.Name == "" || def.Command == "" {
		return fmt.Errorf("registry: agent needs a name and command")
	}

	r.mu.Lock()
	for _, a := range r.agents {
		if a.Name == def.Name {
			r.mu.Unlock()
			return fmt.Errorf("registry: agent %q already exists", def.Name)
		}
	}
	r.agents = append(r.agents, def)
	err := r.persist()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.notifyChanged()
	return nil
}

// Update replaces an existing agent, keeping its position.
func (r *Registry) Update(def AgentDefinition) error {
	r.mu.Lock()
	found := false
	for i, a := range r.agents {
		if a.Name == def.Name {
			r.agents[i] = def
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("registry: agent %q not found", def.Name)
	}
	err := r.persist()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.notifyChanged()
	return nil
}

// Remove deletes an agent from the catalog.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	found := false
	for i, a := range r.agents {
		if a.Name == name {
			r.agents = append(r.agents[:i], r.agents[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return fmt.Errorf("registry: agent %q not found", name)
	}
	err := r.persist()
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.notifyChanged()
	return nil
}

// Path returns the catalog file location.
func (r *Registry) Path() string {
	return r.path
}

// Close stops the file watcher.
func (r *Registry) Close() {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
	}
}
