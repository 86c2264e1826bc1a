package utils

import "fmt"

// AssertAs performs a type assertion, returning an error naming what went wrong.
func AssertAs[T any](value any, what string) (T, error) {
	if v, ok := value.(T); ok {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s: expected %T, got %T", what, zero, value)
}
