package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Channel is a notification delivery channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

var (
	// ErrNoTransport is returned when no transport is registered for a channel
	ErrNoTransport = errors.New("no transport for channel")
	// ErrNoAddress is returned when the recipient lacks the address a channel needs
	ErrNoAddress = errors.New("recipient has no address for channel")
)

// Recipient identifies who receives a notification
type Recipient struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// Event describes a fired alert
type Event struct {
	AlertID     uint      `json:"alert_id"`
	UserID      uint      `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Transport delivers an event on one channel
type Transport interface {
	Send(ctx context.Context, recipient Recipient, event Event) error
}

// Delivery is one (channel, recipient, event) task
type Delivery struct {
	Channel   Channel
	Recipient Recipient
	Event     Event
}

// Result is the outcome of one delivery
type Result struct {
	Delivery
	Err      error
	Duration time.Duration
}

// Dispatcher fans deliveries out to transports, one task per delivery
type Dispatcher struct {
	transports map[Channel]Transport
	timeout    time.Duration
	parallel   int
}

// NewDispatcher creates a dispatcher over the given transports
func NewDispatcher(transports map[Channel]Transport) *Dispatcher {
	return &Dispatcher{
		transports: transports,
		timeout:    10 * time.Second,
		parallel:   16,
	}
}

// Channels returns the channels that have a transport
func (d *Dispatcher) Channels() []Channel {
	out := make([]Channel, 0, len(d.transports))
	for _, ch := range []Channel{ChannelEmail, ChannelPush, ChannelSMS} {
		if _, ok := d.transports[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Dispatch runs every delivery in its own task and waits for all of them.
// A failing delivery never cancels its siblings; each error is captured in
// its Result, in input order.
func (d *Dispatcher) Dispatch(ctx context.Context, deliveries []Delivery) []Result {
	results := make([]Result, len(deliveries))

	var g errgroup.Group
	g.SetLimit(d.parallel)
	for i, delivery := range deliveries {
		g.Go(func() error {
			start := time.Now()
			err := d.send(ctx, delivery)
			results[i] = Result{Delivery: delivery, Err: err, Duration: time.Since(start)}
			if err != nil {
				log.Printf("ERROR: %s notification for alert %d (user %d) failed: %v",
					delivery.Channel, delivery.Event.AlertID, delivery.Recipient.UserID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) send(ctx context.Context, delivery Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()

	transport, ok := d.transports[delivery.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTransport, delivery.Channel)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return transport.Send(ctx, delivery.Recipient, delivery.Event)
}

// Failed returns the results that carry an error
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
