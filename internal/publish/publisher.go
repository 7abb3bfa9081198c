// Package publish decouples delivery of frame results and fall alerts from
// the per-frame tracking loop.
//
// Publish never blocks: results go onto a bounded queue and are dropped when
// it is full. A broadcast goroutine fans results out to subscribers (the
// websocket hub, gRPC streams) and a delivery goroutine hands each alert to
// the registered Deliverers (dashboard poster, alert store, redis, siren).
// Delivery errors are logged and dropped; they never reach the engine.
package publish

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// Config holds configuration for the publisher.
type Config struct {
	// QueueSize bounds results waiting for fan-out and alerts waiting for delivery.
	QueueSize int

	// SubscriberBuffer is the per-subscriber channel depth. Slow subscribers drop.
	SubscriberBuffer int

	// DeliveryTimeout bounds each Deliverer call.
	DeliveryTimeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:        256,
		SubscriberBuffer: 32,
		DeliveryTimeout:  500 * time.Millisecond,
	}
}

// ConfigFromTuning derives publisher config from a TuningConfig.
func ConfigFromTuning(c *config.TuningConfig) Config {
	return Config{
		QueueSize:        c.GetQueueSize(),
		SubscriberBuffer: c.GetSubscriberBuffer(),
		DeliveryTimeout:  c.GetDeliveryTimeout(),
	}
}

// Deliverer ships one alert to an external system. Implementations should
// honour ctx; the publisher cancels it after Config.DeliveryTimeout.
type Deliverer interface {
	Deliver(ctx context.Context, alert pipeline.Alert) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, alert pipeline.Alert) error

// Deliver calls f(ctx, alert).
func (f DelivererFunc) Deliver(ctx context.Context, alert pipeline.Alert) error { return f(ctx, alert) }

type namedDeliverer struct {
	name string
	d    Deliverer

	delivered atomic.Uint64
	failed    atomic.Uint64
}

type subscriber struct {
	id string
	ch chan pipeline.FrameResult
}

// Publisher fans frame results out to subscribers and alerts out to
// deliverers without ever blocking the caller.
type Publisher struct {
	config Config

	resultChan chan pipeline.FrameResult
	alertChan  chan pipeline.Alert

	subsMu sync.RWMutex
	subs   map[string]*subscriber

	delivMu    sync.RWMutex
	deliverers []*namedDeliverer

	// Stats
	published      atomic.Uint64
	droppedResults atomic.Uint64
	droppedAlerts  atomic.Uint64
	droppedSubs    atomic.Uint64
	alertsQueued   atomic.Uint64

	// Lifecycle
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	return &Publisher{
		config:     cfg,
		resultChan: make(chan pipeline.FrameResult, cfg.QueueSize),
		alertChan:  make(chan pipeline.Alert, cfg.QueueSize),
		subs:       make(map[string]*subscriber),
		stopCh:     make(chan struct{}),
	}
}

// AddDeliverer registers a named alert destination. Safe to call while running.
func (p *Publisher) AddDeliverer(name string, d Deliverer) {
	p.delivMu.Lock()
	defer p.delivMu.Unlock()
	p.deliverers = append(p.deliverers, &namedDeliverer{name: name, d: d})
	diagf("[Publisher] Registered deliverer %q", name)
}

// Start launches the broadcast and delivery goroutines.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.wg.Add(2)
	go p.broadcastLoop()
	go p.deliverLoop()
	diagf("[Publisher] Started (queue=%d, subscriber buffer=%d, delivery timeout=%s)",
		p.config.QueueSize, p.config.SubscriberBuffer, p.config.DeliveryTimeout)
	return nil
}

// Stop halts both goroutines and closes every subscriber channel. Queued
// results and alerts that have not been handled are discarded.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()

	p.subsMu.Lock()
	for id, s := range p.subs {
		close(s.ch)
		delete(p.subs, id)
	}
	p.subsMu.Unlock()
	diagf("[Publisher] Stopped")
}

// Publish implements pipeline.Sink. It never blocks.
func (p *Publisher) Publish(res pipeline.FrameResult) {
	if !p.running.Load() {
		return
	}

	for _, a := range res.Alerts {
		select {
		case p.alertChan <- a:
			p.alertsQueued.Add(1)
		default:
			n := p.droppedAlerts.Add(1)
			opsf("[Publisher] DROPPED alert %s stream=%s person=%d (total dropped: %d), delivery queue full",
				a.ID, a.StreamID, a.PersonID, n)
		}
	}

	select {
	case p.resultChan <- res:
		p.published.Add(1)
	default:
		n := p.droppedResults.Add(1)
		if n == 1 || n%100 == 0 {
			opsf("[Publisher] Dropped %d frame results, fan-out queue full", n)
		}
	}
}

// broadcastLoop distributes results to all subscribers.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case res := <-p.resultChan:
			p.subsMu.RLock()
			for _, s := range p.subs {
				select {
				case s.ch <- res:
				default:
					// Subscriber is slow, drop for this subscriber only.
					p.droppedSubs.Add(1)
				}
			}
			p.subsMu.RUnlock()
		}
	}
}

// deliverLoop hands alerts to every deliverer in registration order.
func (p *Publisher) deliverLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case a := <-p.alertChan:
			p.deliver(a)
		}
	}
}

func (p *Publisher) deliver(a pipeline.Alert) {
	p.delivMu.RLock()
	ds := append([]*namedDeliverer(nil), p.deliverers...)
	p.delivMu.RUnlock()

	for _, nd := range ds {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.DeliveryTimeout)
		err := safeDeliver(ctx, nd.d, a)
		cancel()
		if err != nil {
			nd.failed.Add(1)
			opsf("[Publisher] Delivery to %s failed for alert %s (stream=%s person=%d): %v",
				nd.name, a.ID, a.StreamID, a.PersonID, err)
			continue
		}
		nd.delivered.Add(1)
		tracef("[Publisher] Delivered alert %s to %s", a.ID, nd.name)
	}
}

// safeDeliver converts a deliverer panic into an error so one bad
// destination cannot take down delivery for the rest.
func safeDeliver(ctx context.Context, d Deliverer, a pipeline.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliverer panic: %v", r)
		}
	}()
	return d.Deliver(ctx, a)
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a subscriber and returns its ID and receive channel.
// The channel is closed by Unsubscribe or Stop.
func (p *Publisher) Subscribe() (string, <-chan pipeline.FrameResult) {
	s := &subscriber{
		id: randomID(),
		ch: make(chan pipeline.FrameResult, p.config.SubscriberBuffer),
	}
	p.subsMu.Lock()
	p.subs[s.id] = s
	n := len(p.subs)
	p.subsMu.Unlock()
	diagf("[Publisher] Subscriber connected: %s (total: %d)", s.id, n)
	return s.id, s.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (p *Publisher) Unsubscribe(id string) {
	p.subsMu.Lock()
	s, ok := p.subs[id]
	if ok {
		close(s.ch)
		delete(p.subs, id)
	}
	n := len(p.subs)
	p.subsMu.Unlock()
	if ok {
		diagf("[Publisher] Subscriber disconnected: %s (remaining: %d)", id, n)
	}
}

// DelivererStats counts outcomes for one deliverer.
type DelivererStats struct {
	Name      string `json:"name"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Running           bool             `json:"running"`
	Published         uint64           `json:"published"`
	DroppedResults    uint64           `json:"dropped_results"`
	DroppedAlerts     uint64           `json:"dropped_alerts"`
	DroppedSubscriber uint64           `json:"dropped_subscriber"`
	AlertsQueued      uint64           `json:"alerts_queued"`
	Subscribers       int              `json:"subscribers"`
	Deliverers        []DelivererStats `json:"deliverers"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.subsMu.RLock()
	subs := len(p.subs)
	p.subsMu.RUnlock()

	p.delivMu.RLock()
	ds := make([]DelivererStats, 0, len(p.deliverers))
	for _, nd := range p.deliverers {
		ds = append(ds, DelivererStats{Name: nd.name, Delivered: nd.delivered.Load(), Failed: nd.failed.Load()})
	}
	p.delivMu.RUnlock()
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })

	return PublisherStats{
		Running:           p.running.Load(),
		Published:         p.published.Load(),
		DroppedResults:    p.droppedResults.Load(),
		DroppedAlerts:     p.droppedAlerts.Load(),
		DroppedSubscriber: p.droppedSubs.Load(),
		AlertsQueued:      p.alertsQueued.Load(),
		Subscribers:       subs,
		Deliverers:        ds,
	}
}
