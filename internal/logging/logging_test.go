package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoOnBadLevel(t *testing.T) {
	log, err := New(Config{Level: "not-a-level"})
	require.NoError(t, err)
	require.Equal(t, "info", log.GetLevel().String())
}

func TestComponentTagsSubLogger(t *testing.T) {
	log, err := New(Config{Level: "debug"})
	require.NoError(t, err)

	sub := Component(log, "nodeclient")
	require.NotPanics(t, func() { sub.Info("hello") })
}
