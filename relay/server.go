package main

import (
	"sync"

	"github.com/tunnelforge/relay/internal/authvalidator"
	"github.com/tunnelforge/relay/internal/config"
	"github.com/tunnelforge/relay/internal/logging"
	"github.com/tunnelforge/relay/internal/metrics"
	"github.com/tunnelforge/relay/internal/registry"
)

// Server is the relay process's top-level state: the tunnel registry
// and the metrics counter are its only two pieces of global state,
// both created here at startup and never replaced.
type Server struct {
	cfg       config.ServerConfig
	logger    *logging.Logger
	registry  *registry.Registry
	metrics   *metrics.Counters
	validator authvalidator.Validator

	mu      sync.RWMutex
	agents  map[string]*AgentSession
	browser map[string]*BrowserSession
}

func NewServer(cfg config.ServerConfig, logger *logging.Logger) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  registry.New(),
		metrics:   metrics.New(),
		validator: authvalidator.NewStaticTokenValidator(cfg.AuthTokens),
		agents:    make(map[string]*AgentSession),
		browser:   make(map[string]*BrowserSession),
	}
}

func (s *Server) addAgent(a *AgentSession) {
	s.mu.Lock()
	s.agents[a.AgentID] = a
	s.mu.Unlock()
	s.metrics.ActiveAgents.Add(1)
}

func (s *Server) removeAgent(a *AgentSession) {
	s.mu.Lock()
	if current, ok := s.agents[a.AgentID]; ok && current == a {
		delete(s.agents, a.AgentID)
	}
	s.mu.Unlock()
	s.metrics.ActiveAgents.Add(-1)
}

func (s *Server) getAgent(agentID string) (*AgentSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	return a, ok
}

func (s *Server) addBrowser(b *BrowserSession) {
	s.mu.Lock()
	s.browser[b.ConnectionID] = b
	s.mu.Unlock()
}

func (s *Server) removeBrowser(b *BrowserSession) {
	s.mu.Lock()
	if current, ok := s.browser[b.ConnectionID]; ok && current == b {
		delete(s.browser, b.ConnectionID)
	}
	s.mu.Unlock()
}

func (s *Server) getBrowser(connectionID string) (*BrowserSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.browser[connectionID]
	return b, ok
}

// listAgentSummaries snapshots every connected agent for /api/nodes.
func (s *Server) listAgentSummaries() []agentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agentSummary, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.summary())
	}
	return out
}
