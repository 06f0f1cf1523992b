package connectivity

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edgebridge/gateway/internal/buffer"
	"github.com/edgebridge/gateway/internal/model"
	"github.com/edgebridge/gateway/internal/protocol"
)

// Inbound routes received messages to the first registered listener whose
// subscription filter matches, running the listener on the side's command
// buffer. Registration order matters: it is the dispatch precedence.
type Inbound struct {
	lg  *logrus.Entry
	buf *buffer.CommandBuffer

	mu     sync.RWMutex
	routes []route
}

type route struct {
	filters []string
	fn      func(*model.Message)
}

// NewInbound builds a dispatcher draining into the given command buffer.
func NewInbound(lg *logrus.Entry, buf *buffer.CommandBuffer) *Inbound {
	return &Inbound{lg: lg, buf: buf}
}

// Add registers a listener for a set of subscription filters.
func (in *Inbound) Add(filters []string, fn func(*model.Message)) {
	if len(filters) == 0 {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.routes = append(in.routes, route{filters: filters, fn: fn})
}

// Channels returns every registered subscription filter, in registration
// order. The supervisor subscribes these after each connect.
func (in *Inbound) Channels() []string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	var channels []string
	for _, r := range in.routes {
		channels = append(channels, r.filters...)
	}
	return channels
}

// Dispatch matches a received message against the registered filters and
// enqueues the first matching listener. Unmatched messages are dropped.
func (in *Inbound) Dispatch(channel string, payload []byte) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	for _, r := range in.routes {
		for _, filter := range r.filters {
			if !protocol.Matches(filter, channel) {
				continue
			}
			fn := r.fn
			msg := model.NewMessage(channel, payload)
			in.buf.Push(func() { fn(msg) })
			return
		}
	}
	in.lg.WithField("channel", channel).Info("no listener for channel, message dropped")
}
