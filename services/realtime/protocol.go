package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"quote_alert_backend/models"
)

// Message types
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeQuote        = "quote"
	TypeError        = "error"
	TypePong         = "pong"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrEmptySymbols     = errors.New("symbols must be a non-empty array of strings")
)

// ClientMessage is one of SubscribeMessage, UnsubscribeMessage or PingMessage
type ClientMessage interface {
	messageType() string
}

// SubscribeMessage adds symbols to the connection's set
type SubscribeMessage struct {
	Symbols []string
}

// UnsubscribeMessage removes symbols from the connection's set
type UnsubscribeMessage struct {
	Symbols []string
}

// PingMessage is a client heartbeat
type PingMessage struct{}

func (SubscribeMessage) messageType() string   { return TypeSubscribe }
func (UnsubscribeMessage) messageType() string { return TypeUnsubscribe }
func (PingMessage) messageType() string        { return TypePing }

type rawClientMessage struct {
	Type    string          `json:"type"`
	Symbols json.RawMessage `json:"symbols"`
}

// ParseClientMessage decodes and validates an inbound text frame
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var raw rawClientMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedMessage)
	}

	switch raw.Type {
	case TypeSubscribe, TypeUnsubscribe:
		symbols, err := parseSymbols(raw.Symbols)
		if err != nil {
			return nil, err
		}
		if raw.Type == TypeSubscribe {
			return SubscribeMessage{Symbols: symbols}, nil
		}
		return UnsubscribeMessage{Symbols: symbols}, nil
	case TypePing:
		return PingMessage{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, raw.Type)
	}
}

func parseSymbols(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, ErrEmptySymbols
	}
	var symbols []string
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, ErrEmptySymbols
	}
	symbols = models.NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, ErrEmptySymbols
	}
	return symbols, nil
}

// ServerMessage is an outbound frame
type ServerMessage struct {
	Type    string         `json:"type"`
	Symbols []string       `json:"symbols,omitempty"`
	Data    []models.Quote `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func encodeFrame(msg ServerMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling %s frame: %v", msg.Type, err)
		return nil
	}
	return data
}

// ConnectedFrame is sent once after admission
func ConnectedFrame() []byte {
	return encodeFrame(ServerMessage{Type: TypeConnected})
}

// SubscribedFrame acknowledges a subscribe message
func SubscribedFrame(symbols []string) []byte {
	return encodeFrame(ServerMessage{Type: TypeSubscribed, Symbols: symbols})
}

// UnsubscribedFrame acknowledges an unsubscribe message
func UnsubscribedFrame(symbols []string) []byte {
	return encodeFrame(ServerMessage{Type: TypeUnsubscribed, Symbols: symbols})
}

// ErrorFrame reports a rejected client message
func ErrorFrame(message string) []byte {
	return encodeFrame(ServerMessage{Type: TypeError, Error: message})
}

// PongFrame answers a client ping
func PongFrame() []byte {
	return encodeFrame(ServerMessage{Type: TypePong})
}

// QuoteFrame carries a batch of quotes
func QuoteFrame(quotes []models.Quote) ([]byte, error) {
	return json.Marshal(ServerMessage{Type: TypeQuote, Data: quotes})
}
