package model

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned when a payload arrives for a provider the
// normalizer has no schema for. It indicates a routing/configuration mistake.
var ErrUnknownProvider = errors.New("unknown provider")

// NormalizationError reports a malformed or incomplete inbound payload.
type NormalizationError struct {
	Provider Provider
	Field    string // Offending field; empty when the payload as a whole is bad.
	Reason   string
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalize %s payload: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("normalize %s payload: %s: %s", e.Provider, e.Field, e.Reason)
}

// StorageError reports that an event could not be durably recorded.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a failed push to a live subscriber or alert transport.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
