package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/cptspacemanspiff/power-sensors/internal/collector"
	"github.com/cptspacemanspiff/power-sensors/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// client is the part of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher is a collector Listener that forwards samples to an MQTT topic.
// Samples are queued and published from a background goroutine; when the
// queue is full the sample is dropped.
type Publisher struct {
	client client
	topic  string
	qos    byte
	log    *slog.Logger

	queue   chan collector.Sample
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Connect dials the broker in cfg and returns a running Publisher.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg, logger), nil
}

func newPublisher(c client, cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	p := &Publisher{
		client: c,
		topic:  cfg.Topic,
		qos:    byte(cfg.QoS),
		log:    logger,
		queue:  make(chan collector.Sample, size),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// OnMeasurementReceived queues s for publishing. When the queue is full the
// sample is dropped and counted.
func (p *Publisher) OnMeasurementReceived(s collector.Sample) {
	select {
	case <-p.quit:
		return
	default:
	}
	select {
	case p.queue <- s:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			p.log.Warn("mqtt queue full, dropping samples", "dropped", n)
		}
	}
}

// Dropped returns how many samples were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close publishes what is already queued, then disconnects.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.quit)
		<-p.done
		p.client.Disconnect(250)
	})
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case s := <-p.queue:
			p.publish(s)
		case <-p.quit:
			for {
				select {
				case s := <-p.queue:
					p.publish(s)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(s collector.Sample) {
	payload, err := json.Marshal(s)
	if err != nil {
		p.log.Error("marshal sample", "task", s.Task, "err", err)
		return
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warn("mqtt publish timed out", "topic", p.topic, "seq", s.Seq)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", "topic", p.topic, "err", err)
		return
	}
	p.log.Debug("published sample", "topic", p.topic, "task", s.Task, "seq", s.Seq)
}
