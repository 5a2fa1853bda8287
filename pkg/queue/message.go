package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Verdict is the acknowledgement decision a processor returns for a message
type Verdict int

const (
	// Ack removes the message from the queue
	Ack Verdict = iota
	// Reject removes the message and dead-letters it
	Reject
	// Requeue returns the message to the queue for another attempt
	Requeue
)

func (v Verdict) String() string {
	switch v {
	case Ack:
		return "ACK"
	case Reject:
		return "REJECT"
	case Requeue:
		return "REQUEUE"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Message is a unit of work delivered by a Transport
type Message struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	Body        []byte            `json:"body"`
	Attempts    int               `json:"attempts"`
	PublishedAt time.Time         `json:"published_at"`
	Properties  map[string]string `json:"properties,omitempty"`

	// raw is the encoded form the transport received, needed to remove it
	raw string
}

func encodeMessage(msg *Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message %s: %w", msg.ID, err)
	}
	return string(data), nil
}

func decodeMessage(raw string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	msg.raw = raw
	return &msg, nil
}
