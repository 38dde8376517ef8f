package store

import "errors"

var errTypeMismatch = errors.New("aggregate_type does not match the stream's existing type")
