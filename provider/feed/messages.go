package feed

import (
	"encoding/json"
	"fmt"
)

const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeQuote       = "quote"
	MessageTypeHealth      = "health"
)

// RequestMessage is the client→server side of the streaming channel.
type RequestMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// InboundMessage is the server→client envelope. Payload stays raw until the
// type discriminator has been checked.
type InboundMessage struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	SourceID  string          `json:"sourceId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// QuotePayload is the payload of a quote message. A message carrying a
// sourceId is one venue's view; without it the payload is pre-aggregated.
type QuotePayload struct {
	Price       float64 `json:"price"`
	Change24h   float64 `json:"change24h"`
	Volume24h   float64 `json:"volume24h"`
	SourceCount int     `json:"sourceCount,omitempty"`
}

// HealthPayload is the payload of a health message for one source.
type HealthPayload struct {
	Online bool `json:"online"`
}

func parseInbound(data []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed stream message: %w", err)
	}

	switch msg.Type {
	case MessageTypeQuote:
		if msg.Topic == "" {
			return nil, fmt.Errorf("quote message without topic")
		}
	case MessageTypeHealth:
		if msg.SourceID == "" {
			return nil, fmt.Errorf("health message without sourceId")
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	return &msg, nil
}
