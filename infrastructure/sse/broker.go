package sse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
)

var ErrBrokerNotRunning = errors.New("sse broker not running")

type broker struct {
	log logger.Logger

	mu      sync.RWMutex
	clients map[string]*client
	running bool

	publish chan Event
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	eventBufferSize   int
	clientBufferSize  int
	heartbeatInterval time.Duration
	maxClients        int
}

func NewBroker(log logger.Logger, opts ...BrokerOption) Broker {
	b := &broker{
		log:               log,
		clients:           make(map[string]*client),
		eventBufferSize:   DefaultEventBufferSize,
		clientBufferSize:  DefaultClientBufferSize,
		heartbeatInterval: DefaultHeartbeatInterval,
		maxClients:        DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publish = make(chan Event, b.eventBufferSize)
	return b
}

func (b *broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.loop(loopCtx)

	b.log.Info("SSE broker started",
		logger.Int("event_buffer_size", b.eventBufferSize),
		logger.Int("max_clients", b.maxClients),
	)
	return nil
}

func (b *broker) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	b.running = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(DefaultShutdownTimeout):
		b.log.Warn("SSE broker shutdown timed out")
	}
	return nil
}

func (b *broker) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return ErrBrokerNotRunning
	}

	select {
	case b.publish <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("sse publish buffer full, dropped %s", e.Type)
	}
}

func (b *broker) Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func()) {
	o := ClientOptions{BufferSize: b.clientBufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		b.log.Warn("SSE client limit reached", logger.Int("max_clients", b.maxClients))
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	c := newClient(ctx, o.BufferSize, o.Filter)
	b.clients[c.id] = c
	b.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		b.remove(c.id)
	}()

	return c.events, func() { b.remove(c.id) }
}

func (b *broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broker) loop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.publish:
			b.broadcast(e)
		case <-ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

func (b *broker) broadcast(e Event) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.send(e) {
			b.log.Warn("SSE client too slow, disconnecting",
				logger.String("client_id", c.id),
				logger.String("event_type", e.Type),
			)
			b.remove(c.id)
		}
	}
}

func (b *broker) remove(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()
	if ok {
		c.close()
	}
}

func (b *broker) disconnectAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
