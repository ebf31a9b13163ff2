package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConsumerStreaming rejects operations that cannot run while a
	// generation is in flight: a second SendMessage, Resync, or
	// disposing the consumer.
	ErrConsumerStreaming = errors.New("consumer is streaming")

	// ErrUnknownConsumer is returned by registry operations naming an id
	// with no registered consumer.
	ErrUnknownConsumer = errors.New("unknown consumer")
)

// APIError is a non-streaming error envelope from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d", e.Status)
}

// StreamError is a terminal error envelope received on an open stream.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("generation failed (%s): %s", e.Code, e.Message)
	}
	return "generation failed: " + e.Message
}
