package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shardfall/shardfall/pkg/core"
)

// Status is one snapshot of a running session.
type Status struct {
	Time          time.Time      `json:"time"`
	PlayerID      string         `json:"playerId"`
	DisplayName   string         `json:"displayName"`
	Position      core.Position  `json:"position"`
	Moving        bool           `json:"moving"`
	Gathering     string         `json:"gathering,omitempty"`
	Shards        int            `json:"shards"`
	Inventory     map[string]int `json:"inventory"`
	RemotePlayers int            `json:"remotePlayers"`
	Nodes         map[string]int `json:"nodes"`
	Writes        int            `json:"writes"`
	LoopQueue     int            `json:"loopQueue"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Status   func() Status
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
}

// Service periodically writes the session status to a file.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// WriteOnce renders the current status and replaces the file contents.
func (s *Service) WriteOnce() error {
	status := s.deps.Status()
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	tmp := s.deps.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return os.Rename(tmp, s.deps.Path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.deps.Path)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				if err := s.WriteOnce(); err != nil {
					logger.Error("Error writing final status", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteOnce(); err != nil {
					logger.Error("Error writing status", "error", err)
				}
			}
		}
	}(s.stopChan, s.done)
}

// Stop stops the status monitor after a final write.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
