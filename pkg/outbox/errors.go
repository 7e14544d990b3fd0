package outbox

import "errors"

var (
	// ErrStoreNil is returned when a nil store is provided.
	ErrStoreNil = errors.New("outbox store cannot be nil")

	// ErrSinkNil is returned when a nil sink is provided.
	ErrSinkNil = errors.New("outbox sink cannot be nil")

	// ErrDuplicateEvent is returned when appending an event whose ID
	// already exists in the store.
	ErrDuplicateEvent = errors.New("event already exists in outbox")
)
