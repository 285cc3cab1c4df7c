package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/formulahendry/acp-ui/internal/agent/process"
	"github.com/formulahendry/acp-ui/internal/agent/registry"
	"github.com/formulahendry/acp-ui/internal/bridge/rpc"
	"github.com/formulahendry/acp-ui/internal/bridge/traffic"
	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	"github.com/formulahendry/acp-ui/internal/sessionstore"
)

// processLauncher starts real agent child processes.
type processLauncher struct {
	logger *logger.Logger
}

func (l *processLauncher) Launch(def registry.AgentDefinition, cwd string, onLine func([]byte), onStderr func(string), onExit func(error)) (rpc.Channel, error) {
	return process.Start(
		process.Spec{Command: def.Command, Args: def.Args, Cwd: cwd},
		process.Handlers{OnLine: onLine, OnStderr: onStderr, OnExit: onExit},
		l.logger,
	)
}

// Manager owns the live bridge instances and the shared collaborators they
// need: the traffic recorder, the session store, and the agent catalog.
type Manager struct {
	registry *registry.Registry
	store    *sessionstore.Store
	recorder *traffic.Recorder
	bus      bus.EventBus
	logger   *logger.Logger
	launcher Launcher

	requestTimeout time.Duration

	mu      sync.RWMutex
	bridges map[string]*Bridge
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	RequestTimeout time.Duration
	// Launcher overrides the real process launcher, for tests.
	Launcher Launcher
}

// NewManager creates a Manager over the given collaborators.
func NewManager(reg *registry.Registry, store *sessionstore.Store, recorder *traffic.Recorder, eventBus bus.EventBus, log *logger.Logger, opts ManagerOptions) *Manager {
	launcher := opts.Launcher
	if launcher == nil {
		launcher = &processLauncher{logger: log}
	}
	return &Manager{
		registry:       reg,
		store:          store,
		recorder:       recorder,
		bus:            eventBus,
		logger:         log,
		launcher:       launcher,
		requestTimeout: opts.RequestTimeout,
		bridges:        make(map[string]*Bridge),
	}
}

// Create builds a new idle bridge for the named catalog agent. The caller
// drives Connect separately so the UI can cancel mid-flight.
func (m *Manager) Create(agentName string) (*Bridge, error) {
	def, ok := m.registry.Get(agentName)
	if !ok {
		return nil, fmt.Errorf("manager: unknown agent %q", agentName)
	}

	b := NewBridge(def, m.launcher, m.bus, m.logger, Options{
		Recorder:       m.recorder,
		Store:          m.store,
		RequestTimeout: m.requestTimeout,
	})

	m.mu.Lock()
	m.bridges[b.ID] = b
	m.mu.Unlock()
	return b, nil
}

// Get returns the bridge with the given instance id.
func (m *Manager) Get(instanceID string) (*Bridge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bridges[instanceID]
	return b, ok
}

// List returns all live bridges.
func (m *Manager) List() []*Bridge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		out = append(out, b)
	}
	return out
}

// Close disconnects and forgets one bridge.
func (m *Manager) Close(instanceID string) {
	m.mu.Lock()
	b, ok := m.bridges[instanceID]
	delete(m.bridges, instanceID)
	m.mu.Unlock()
	if ok {
		b.Disconnect()
	}
}

// CloseAll disconnects every bridge, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	bridges := m.bridges
	m.bridges = make(map[string]*Bridge)
	m.mu.Unlock()
	for _, b := range bridges {
		b.Disconnect()
	}
}
