package queue

import "errors"

var (
	// ErrUnknownTopic is returned when no processor is bound to a message topic
	ErrUnknownTopic = errors.New("no processor bound to topic")

	// ErrDuplicateTopic is returned when two processors subscribe to the same topic
	ErrDuplicateTopic = errors.New("topic already bound")

	// ErrTransportClosed is returned by a transport after Close
	ErrTransportClosed = errors.New("transport closed")

	// ErrMalformedEnvelope is returned when a queued entry cannot be decoded
	ErrMalformedEnvelope = errors.New("malformed message envelope")
)
