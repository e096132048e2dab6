package events

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Str("component", "events").Logger()

// Publisher writes order events to kafka through a buffered inbox so request
// handlers never block on the broker. Messages carry their own topic; one
// publisher serves every order.* topic.
type Publisher struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewPublisher(brokers []string, buf int) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the delivery loop until ctx is cancelled, then flushes whatever
// is left in the inbox before closing the writer.
func (p *Publisher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(p.inbox)
				for m := range p.inbox {
					p.write(m)
				}
				_ = p.w.Close()
				close(p.closeCh)
				return
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					close(p.closeCh)
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Publisher) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Error().Err(err).Str("topic", m.Topic).Msg("event delivery failed")
	}
}

// Publish enqueues one event. It drops the message if the inbox is full
// rather than blocking a request handler.
func (p *Publisher) Publish(topic string, key, value []byte) {
	select {
	case p.inbox <- kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now()}:
	default:
		log.Warn().Str("topic", topic).Msg("event inbox full, dropping")
	}
}

// WaitClosed blocks until the delivery loop has flushed and exited.
func (p *Publisher) WaitClosed() { <-p.closeCh }

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
