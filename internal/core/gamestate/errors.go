package gamestate

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBaseState is returned when a delta has no cached full value to fold onto.
	ErrNoBaseState = errors.New("delta has no base state")
	// ErrStateMismatch is returned by DeltaState.ApplyTo when the base has the wrong type.
	ErrStateMismatch = errors.New("base state has unexpected type")
	// ErrMissingMetadata is returned by the entity layer when a new entity arrives
	// without the component it needs to be created.
	ErrMissingMetadata = errors.New("entity state is missing metadata")
)

// MissingMetadataError names the entity that could not be created.
type MissingMetadataError struct {
	Entity EntityID
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("server state is missing the metadata component for a new entity: %d", e.Entity)
}

func (e *MissingMetadataError) Unwrap() error {
	return ErrMissingMetadata
}
