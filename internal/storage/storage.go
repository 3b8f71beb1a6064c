// ABOUTME: Durable key-value Storage interface backing sign-in flow state
// ABOUTME: Values are opaque JSON documents; backends live alongside in this package

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyKey is returned when an operation is given an empty key.
var ErrEmptyKey = errors.New("storage key must not be empty")

// Storage is a durable async key-value store. Missing keys are absent from
// the map returned by Read. Backends return errors as-is and never retry.
type Storage interface {
	Read(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	Write(ctx context.Context, changes map[string]json.RawMessage) error
	Delete(ctx context.Context, keys []string) error
	Close() error
}

// validateKeys rejects empty keys.
func validateKeys(keys []string) error {
	for _, k := range keys {
		if k == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

// validateChanges rejects empty keys and values that are not valid JSON.
func validateChanges(changes map[string]json.RawMessage) error {
	for k, v := range changes {
		if k == "" {
			return ErrEmptyKey
		}
		if !json.Valid(v) {
			return fmt.Errorf("value for key %q is not valid JSON", k)
		}
	}
	return nil
}
