package events

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/nats-io/nats.go"
)

// NatsWriter delivers published events to a NATS subject so connected
// clients receive realtime progress updates.
type NatsWriter struct {
	nc *nats.Conn
}

func NewNatsWriter(url string) (*NatsWriter, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NatsWriter{nc: nc}, nil
}

func (w *NatsWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	data, err := e.MarshalJSON()
	if err != nil {
		return err
	}
	return w.nc.Publish(topic, data)
}

func (w *NatsWriter) Close(_ context.Context) error {
	if w.nc != nil {
		return w.nc.Drain()
	}
	return nil
}
