package store

import "github.com/pkg/errors"

// ErrNotFound is returned when no durable record exists for an instance.
var ErrNotFound = errors.New("record not found")
