package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AdapterError is a failed provider call. Provider and Model name the target
// that failed; Status is the upstream HTTP status when one was returned.
type AdapterError struct {
	Provider  string
	Model     string
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s error (status=%d)", e.Provider, e.Status)
	}
	return fmt.Sprintf("adapter error (status=%d)", e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Attribute records the provider and model a call failed against. Errors
// already attributed to a provider are returned unchanged. Status and the
// temporary flag of an inner AdapterError carry over, so IsTransient gives
// the same answer for the result.
func Attribute(err error, provider, model string) error {
	if err == nil {
		return nil
	}
	out := &AdapterError{Provider: provider, Model: model, Err: err}
	var inner *AdapterError
	if errors.As(err, &inner) {
		if inner.Provider != "" {
			return err
		}
		out.Status = inner.Status
		out.Temporary = inner.Temporary
	}
	return out
}

// ProviderOf returns the provider and model the error is attributed to.
func ProviderOf(err error) (provider, model string) {
	var ae *AdapterError
	for err != nil {
		if !errors.As(err, &ae) {
			return "", ""
		}
		if ae.Provider != "" {
			return ae.Provider, ae.Model
		}
		err = ae.Err
	}
	return "", ""
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Temporary {
			return true
		}
		if adapterErr.Status == 429 || (adapterErr.Status >= 500 && adapterErr.Status <= 599) {
			return true
		}
	}
	return false
}
