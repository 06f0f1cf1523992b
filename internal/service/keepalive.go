package service

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

// DefaultKeepAliveInterval is the ping period used when the configuration
// does not override it.
const DefaultKeepAliveInterval = 60 * time.Second

// KeepAliveService pings the platform on a fixed period while connected and
// records the server timestamp carried by each pong.
type KeepAliveService struct {
	lg         *logrus.Entry
	gatewayKey string
	platform   Publisher
	interval   time.Duration

	mu            sync.Mutex
	connected     bool
	lastTimestamp int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewKeepAliveService builds the service and starts its ticker worker.
func NewKeepAliveService(lg *logrus.Entry, gatewayKey string, platform Publisher, interval time.Duration) *KeepAliveService {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	s := &KeepAliveService{
		lg:         lg,
		gatewayKey: gatewayKey,
		platform:   platform,
		interval:   interval,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Connected marks the platform reachable and pings immediately.
func (s *KeepAliveService) Connected() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.ping()
}

// Disconnected pauses pinging.
func (s *KeepAliveService) Disconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// PlatformMessageReceived handles a pong and records its timestamp.
func (s *KeepAliveService) PlatformMessageReceived(msg *model.Message) {
	utc, err := protocol.ParsePong(msg.Content)
	if err != nil {
		s.lg.WithField("channel", msg.Channel).WithError(err).Warn("malformed pong dropped")
		return
	}
	s.mu.Lock()
	s.lastTimestamp = utc
	s.mu.Unlock()
	s.lg.WithField("utc", utc).Debug("pong received")
}

// LastPlatformTimestamp returns the most recent server timestamp, 0 before
// the first pong.
func (s *KeepAliveService) LastPlatformTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTimestamp
}

// Stop shuts the ticker worker down.
func (s *KeepAliveService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *KeepAliveService) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.ping()
		case <-s.stopCh:
			return
		}
	}
}

func (s *KeepAliveService) ping() {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}
	s.platform.AddMessage(protocol.MakePingMessage(s.gatewayKey))
}
