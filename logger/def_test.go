package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	assert.NotNil(t, Log())
	assert.NotNil(t, S())

	require.NoError(t, Init(true))
	first := Log()
	require.NoError(t, Init(false))
	assert.NotSame(t, first, Log())
	assert.NotNil(t, Named("engine"))
	Sync()
}
