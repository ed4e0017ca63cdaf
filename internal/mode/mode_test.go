package mode_test

import (
	"testing"

	"codeberg.org/mutker/fanmon/internal/mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := mode.Parse("init")
	require.NoError(t, err)
	assert.Equal(t, mode.Init, m)

	m, err = mode.Parse("control")
	require.NoError(t, err)
	assert.Equal(t, mode.Control, m)

	_, err = mode.Parse("monitor")
	require.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "init", mode.Init.String())
	assert.Equal(t, "control", mode.Control.String())
	assert.Equal(t, "unknown", mode.Mode(0).String())
}
