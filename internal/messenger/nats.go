package messenger

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS is the messenger.kind=nats backend: a thin adapter over
// nats-io/nats.go's core pub/sub, used when more than one server shares
// a scheduler, store, and index (spec §6 "internal pub/sub").
type NATS struct {
	conn *nats.Conn
}

// DialNATS connects to url (e.g. "nats://localhost:4222").
func DialNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("messenger: connect to nats at %s: %w", url, err)
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(ctx context.Context, subject string, data []byte) error {
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messenger: publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	ch := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(subject, ch)
	if err != nil {
		return nil, fmt.Errorf("messenger: subscribe %s: %w", subject, err)
	}
	return &natsSub{sub: sub, ch: ch}, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

type natsSub struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

func (s *natsSub) Next(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok || msg == nil {
			return Message{}, ErrClosed
		}
		return Message{Subject: msg.Subject, Data: msg.Data}, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
