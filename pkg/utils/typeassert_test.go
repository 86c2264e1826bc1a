package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertAs(t *testing.T) {
	v, err := AssertAs[*int](new(int), "counter")
	require.NoError(t, err)
	assert.NotNil(t, v)

	_, err = AssertAs[*int]("nope", "counter")
	require.Error(t, err)
	assert.Equal(t, "invalid counter: expected *int, got string", err.Error())
}
