package store

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"menuprice/internal/metrics"
)

// writeFunc performs one durable write.
type writeFunc func() error

// persister runs durable writes off the caller's goroutine. Pending writes
// for the same key coalesce; the newest one wins. Failed writes are logged
// and dropped.
type persister struct {
	logger  hclog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[string]writeFunc
	order   []string
	closed  bool

	wake  chan struct{}
	flush chan chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

func newPersister(logger hclog.Logger, m *metrics.Metrics) *persister {
	p := &persister{
		logger:  logger,
		metrics: m,
		pending: map[string]writeFunc{},
		wake:    make(chan struct{}, 1),
		flush:   make(chan chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) enqueue(key string, write writeFunc) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("dropping write after close", "key", key)
		return
	}
	if _, ok := p.pending[key]; !ok {
		p.order = append(p.order, key)
	}
	p.pending[key] = write
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain()
		case ack := <-p.flush:
			p.drain()
			close(ack)
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *persister) drain() {
	p.mu.Lock()
	pending, order := p.pending, p.order
	p.pending, p.order = map[string]writeFunc{}, nil
	p.mu.Unlock()

	for _, key := range order {
		if err := pending[key](); err != nil {
			p.logger.Warn("persisting state failed", "key", key, "error", err)
			p.metrics.PersistFailed(key)
		}
	}
}

// Flush blocks until every write enqueued before the call has been attempted.
func (p *persister) Flush() {
	ack := make(chan struct{})
	select {
	case p.flush <- ack:
		<-ack
	case <-p.done:
	}
}

// Close flushes and stops the writer. It is safe to call more than once.
func (p *persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.stop)
	<-p.done
}
