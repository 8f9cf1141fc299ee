package eventbus

import (
	"errors"
	"fmt"
)

// Bus errors.
var (
	ErrHandlerFault = errors.New("event handler fault")
	ErrNilHandler   = errors.New("handler cannot be nil")
	ErrNilLogger    = errors.New("logger cannot be nil")
)

// HandlerFault describes a subscriber that returned an error or panicked.
// It is reported to the fault hook and the log; it never reaches the publisher.
type HandlerFault struct {
	Topic          Topic
	SubscriptionID uint64
	Cause          error
	Recovered      any
}

func (f *HandlerFault) Error() string {
	if f.Recovered != nil {
		return fmt.Sprintf("handler %d on %s panicked: %v", f.SubscriptionID, f.Topic, f.Recovered)
	}
	return fmt.Sprintf("handler %d on %s failed: %v", f.SubscriptionID, f.Topic, f.Cause)
}

// Is reports ErrHandlerFault so callers can match with errors.Is.
func (f *HandlerFault) Is(target error) bool {
	return target == ErrHandlerFault
}

func (f *HandlerFault) Unwrap() error {
	return f.Cause
}
