package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultPushSubject is the subject prefix push events are published under
const DefaultPushSubject = "alerts.push"

// NATSTransport publishes push notifications to NATS, one subject per user
type NATSTransport struct {
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials a NATS server for push delivery
func ConnectNATS(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("Warning: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	return nc, nil
}

// NewNATSTransport creates a push transport on an open connection
func NewNATSTransport(conn *nats.Conn, subject string) *NATSTransport {
	if subject == "" {
		subject = DefaultPushSubject
	}
	return &NATSTransport{conn: conn, subject: subject}
}

// Subject returns the subject used for a user
func (t *NATSTransport) Subject(userID uint) string {
	return fmt.Sprintf("%s.%d", t.subject, userID)
}

// Send publishes the event and flushes so failures surface here
func (t *NATSTransport) Send(ctx context.Context, recipient Recipient, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal push event: %w", err)
	}
	if err := t.conn.Publish(t.Subject(recipient.UserID), data); err != nil {
		return fmt.Errorf("failed to publish push event: %w", err)
	}
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush push event: %w", err)
	}
	return nil
}

// webhookPayload is the body posted to email/SMS gateways
type webhookPayload struct {
	Channel Channel `json:"channel"`
	To      string  `json:"to"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Event   Event   `json:"event"`
}

// WebhookTransport posts notifications to an HTTP gateway (email or SMS)
type WebhookTransport struct {
	channel    Channel
	url        string
	httpClient *http.Client
}

// NewWebhookTransport creates a transport posting to url
func NewWebhookTransport(channel Channel, url string) *WebhookTransport {
	return &WebhookTransport{
		channel:    channel,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the event to the gateway
func (t *WebhookTransport) Send(ctx context.Context, recipient Recipient, event Event) error {
	to := recipient.Email
	if t.channel == ChannelSMS {
		to = recipient.Phone
	}
	if to == "" {
		return fmt.Errorf("%w: %s", ErrNoAddress, t.channel)
	}

	payload := webhookPayload{
		Channel: t.channel,
		To:      to,
		Subject: fmt.Sprintf("Alert triggered: %s", event.Symbol),
		Body:    event.Reason,
		Event:   event,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", t.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway request failed: %w", t.channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s gateway error (status %d): %s", t.channel, resp.StatusCode, string(msg))
	}
	return nil
}

// LogTransport only logs, for channels without a configured gateway
type LogTransport struct {
	Channel Channel
}

// Send logs the event
func (t LogTransport) Send(_ context.Context, recipient Recipient, event Event) error {
	log.Printf("[%s] alert %d for user %d: %s %s", t.Channel, event.AlertID, recipient.UserID, event.Symbol, event.Reason)
	return nil
}
