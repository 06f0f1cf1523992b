// Package publishing provides the per-side outbound queue: messages are
// accepted at any time, held while the broker is down, and published
// strictly in order once it is up. The platform side backs the queue with a
// persistence store so pending messages survive restarts.
package publishing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/model"
)

// publishRetryDelay is the pause before retrying the queue head after a
// failed publish.
const publishRetryDelay = 500 * time.Millisecond

// Broker is the outbound side of a broker connection.
type Broker interface {
	Publish(channel string, payload []byte) error
}

// Persistence stores pending outbound messages in enqueue order.
type Persistence interface {
	Store(msg *model.Message) (uint64, error)
	Remove(id uint64) error
	LoadAll() ([]model.PersistedMessage, error)
}

type queued struct {
	id  uint64 // persistence ID; 0 when not persisted
	msg *model.Message
}

// Service is the outbound queue worker for one broker side.
type Service struct {
	lg          *logrus.Entry
	broker      Broker
	persistence Persistence // nil: in-memory queue only

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []queued
	connected bool
	run       bool

	stopCh chan struct{}
	done   chan struct{}
}

// New builds the service, restores any persisted backlog and starts the
// worker. The service starts in the disconnected state.
func New(lg *logrus.Entry, broker Broker, persistence Persistence) *Service {
	s := &Service{
		lg:          lg,
		broker:      broker,
		persistence: persistence,
		run:         true,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	if persistence != nil {
		stored, err := persistence.LoadAll()
		if err != nil {
			lg.WithError(err).Error("failed to restore outbound backlog")
		}
		for _, pm := range stored {
			s.queue = append(s.queue, queued{id: pm.ID, msg: model.NewMessage(pm.Channel, pm.Content)})
		}
		if len(stored) > 0 {
			lg.WithField("count", len(stored)).Info("restored outbound backlog")
		}
	}

	go s.process()
	return s
}

// AddMessage enqueues an outbound message. With persistence configured the
// message is stored before it is queued, so it is never lost once accepted.
func (s *Service) AddMessage(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.run {
		s.lg.WithField("channel", msg.Channel).Warn("publisher stopped, message dropped")
		return
	}
	var id uint64
	if s.persistence != nil {
		var err error
		if id, err = s.persistence.Store(msg); err != nil {
			s.lg.WithField("channel", msg.Channel).WithError(err).Error("failed to persist outbound message")
			id = 0
		}
	}
	s.queue = append(s.queue, queued{id: id, msg: msg})
	s.cond.Signal()
}

// Connected unblocks publishing.
func (s *Service) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.cond.Signal()
}

// Disconnected pauses publishing; messages keep queueing.
func (s *Service) Disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// QueueSize returns the number of pending messages.
func (s *Service) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop shuts the worker down. Unpublished persisted messages stay in the
// store and are restored on the next start.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.run {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.run = false
	close(s.stopCh)
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *Service) process() {
	defer close(s.done)
	s.mu.Lock()
	for {
		for s.run && (!s.connected || len(s.queue) == 0) {
			s.cond.Wait()
		}
		if !s.run {
			s.mu.Unlock()
			return
		}
		head := s.queue[0]
		s.mu.Unlock()

		err := s.broker.Publish(head.msg.Channel, head.msg.Content)
		if err != nil {
			s.lg.WithField("channel", head.msg.Channel).WithError(err).Warn("publish failed, retrying")
			select {
			case <-time.After(publishRetryDelay):
			case <-s.stopCh:
			}
			s.mu.Lock()
			continue
		}

		s.mu.Lock()
		s.queue = s.queue[1:]
		if s.persistence != nil && head.id != 0 {
			if err := s.persistence.Remove(head.id); err != nil {
				s.lg.WithField("channel", head.msg.Channel).WithError(err).Error("failed to remove published message from store")
			}
		}
	}
}
