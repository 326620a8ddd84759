package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace/internal/logx"
	"github.com/segmentio/kafka-go"
)

// Publisher is what services depend on; *Producer and Discard implement it.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

type Producer struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewProducer builds a writer without a fixed topic; every message carries its own.
func NewProducer(brokers []string, buf int) *Producer {
	p := &Producer{
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true, // fire-and-forget untuk throughput; error dicatat di Completion
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil && len(msgs) > 0 {
				logx.L().Error("kafka write failed", "messages", len(msgs), "topic", msgs[0].Topic, "err", err)
			}
		},
	}
	return p
}

func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				logx.L().Error("kafka enqueue failed", "topic", m.Topic, "err", err)
			}
		}
		if err := p.w.Close(); err != nil {
			logx.L().Error("kafka writer close", "err", err)
		}
	}()
}

// Publish enqueues a message; after Close it is dropped.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logx.L().Warn("publish after close, event dropped", "topic", topic, "key", string(key))
		return
	}
	p.inbox <- kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Tutup inbox supaya goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.done }

// Discard drops every message; used when KAFKA_BROKERS is empty.
type Discard struct{}

func (Discard) Publish(topic string, key, value []byte, headers ...kafka.Header) {
	logx.L().Debug("event discarded, no brokers configured", "topic", topic, "key", string(key))
}
