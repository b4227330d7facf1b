// Package events delivers committed trades to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/user/papertrade/backend/internal/models"
	"go.uber.org/zap"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrBacklogFull is returned by Publish when the outbound queue is saturated.
var ErrBacklogFull = errors.New("kafka backlog full")

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
	closeGrace   = 5 * time.Second
)

// Kafka publishes each trade as one JSON message keyed by symbol, so all
// trades of a symbol land on the same partition in commit order. Publish only
// enqueues; a single goroutine owns the writer.
type Kafka struct {
	w     messageWriter
	log   *zap.Logger
	queue chan kafka.Message
	done  chan struct{}
	// stop aborts in-flight writes once Close has waited closeGrace.
	stop context.CancelFunc
	ctx  context.Context

	mu     sync.RWMutex
	closed bool
}

// NewKafka builds a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string, log *zap.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		MaxAttempts:  3,
	}
	return newKafka(w, log), nil
}

func newKafka(w messageWriter, log *zap.Logger) *Kafka {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())
	k := &Kafka{
		w:     w,
		log:   log.Named("kafka"),
		queue: make(chan kafka.Message, queueSize),
		done:  make(chan struct{}),
		stop:  stop,
		ctx:   ctx,
	}
	go k.drain()
	return k
}

func (k *Kafka) drain() {
	defer close(k.done)
	for msg := range k.queue {
		ctx, cancel := context.WithTimeout(k.ctx, writeTimeout)
		err := k.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			k.log.Warn("trade event not delivered", zap.ByteString("symbol", msg.Key), zap.Error(err))
			continue
		}
		k.log.Debug("trade published", zap.ByteString("symbol", msg.Key))
	}
}

// Ping dials the first broker to check it is reachable.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka: %w", err)
	}
	return conn.Close()
}

// Publish implements ledger.Publisher. It never waits on the broker;
// delivery failures are logged by the writer goroutine.
func (k *Kafka) Publish(_ context.Context, ev models.TradeEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil
	}
	select {
	case k.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s %s", ErrBacklogFull, ev.Side, ev.LotID)
	}
}

// Close stops accepting events and waits for the queue to drain. Events still
// queued after closeGrace are dropped.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if !k.closed {
		k.closed = true
		close(k.queue)
	}
	k.mu.Unlock()

	select {
	case <-k.done:
	case <-time.After(closeGrace):
		k.log.Warn("kafka queue not drained, dropping remaining events", zap.Int("pending", len(k.queue)))
		k.stop()
		<-k.done
	}
	k.stop()
	return k.w.Close()
}

func encode(ev models.TradeEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode trade event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Symbol),
		Value: b,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "side", Value: []byte(ev.Side)},
		},
	}, nil
}
