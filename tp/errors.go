package tp

import "fmt"

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

type TransportError struct {
	msg string
}

func NewTransportError(msg string) TransportError {
	return TransportError{msg: msg}
}

func (e TransportError) Error() string {
	return messageOrDefault(e.msg, "CAN transport error")
}

// PoolExhaustedError reports that no frame or reassembly slot was free.
type PoolExhaustedError struct {
	TransportError
}

func (e PoolExhaustedError) Error() string {
	return messageOrDefault(e.msg, "frame pool exhausted")
}

// MessageTooLargeError reports a message longer than the configured maximum,
// either on send or as declared by a received first frame.
type MessageTooLargeError struct {
	TransportError
	Size int
	Max  int
}

func (e MessageTooLargeError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("message of %d bytes exceeds maximum of %d", e.Size, e.Max))
}

// InvalidMessageError reports a send request the protocol cannot encode.
type InvalidMessageError struct {
	TransportError
}

func (e InvalidMessageError) Error() string {
	return messageOrDefault(e.msg, "invalid message")
}

// TransmitRejectedError is returned by Send. Cause holds the reason.
type TransmitRejectedError struct {
	TransportError
	Cause error
}

func (e *TransmitRejectedError) Error() string {
	if e.Cause != nil {
		return "transmit rejected: " + e.Cause.Error()
	}
	return messageOrDefault(e.msg, "transmit rejected")
}

func (e *TransmitRejectedError) Unwrap() error {
	return e.Cause
}

// OrphanContinuationError reports a continuation frame with no message in progress.
type OrphanContinuationError struct {
	TransportError
	Source NodeID
}

func (e OrphanContinuationError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("orphan continuation frame from node %d", e.Source))
}

// InterruptedMessageError reports a partial message discarded because its
// source started a new one.
type InterruptedMessageError struct {
	TransportError
	Source NodeID
}

func (e InterruptedMessageError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("message from node %d interrupted by a new start frame", e.Source))
}

// DispatchQueueFullError reports a complete message that could not be queued.
type DispatchQueueFullError struct {
	TransportError
	Source NodeID
}

func (e DispatchQueueFullError) Error() string {
	return messageOrDefault(e.msg, fmt.Sprintf("dispatch queue full, message from node %d dropped", e.Source))
}

type InvalidFrameError struct {
	TransportError
}

func (e InvalidFrameError) Error() string {
	return messageOrDefault(e.msg, "invalid CAN frame")
}

type ConfigError struct {
	TransportError
}

func (e ConfigError) Error() string {
	return messageOrDefault(e.msg, "invalid transport configuration")
}
