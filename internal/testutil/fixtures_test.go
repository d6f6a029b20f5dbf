package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fragstore/internal/schema"
)

func TestFixtureCUEMatchesGoRegistry(t *testing.T) {
	fromCUE, err := schema.LoadString(FixtureCUE)
	require.NoError(t, err)
	fromGo := NewRegistry(t)

	assert.Equal(t, fromGo.Schemas(), fromCUE.Schemas())
	assert.Equal(t, fromGo.Types(), fromCUE.Types())
}
