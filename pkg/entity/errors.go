package entity

import "errors"

var (
	// ErrManagerNotFound is returned when no manager is registered for an entity class
	ErrManagerNotFound = errors.New("entity manager not found")

	// ErrInvalidMapping is returned for an unusable entity class mapping
	ErrInvalidMapping = errors.New("invalid entity mapping")
)
