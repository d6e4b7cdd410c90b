package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["search"])
	assert.True(t, names["schema"])
}

func TestSearchFlags(t *testing.T) {
	f := searchCmd.Flags()
	for _, name := range []string{"lat", "lon", "radius", "limit", "hazard", "hide-ineligible", "diagnostics"} {
		require.NotNil(t, f.Lookup(name), "missing flag %s", name)
	}

	require.NoError(t, f.Set("lat", "35.68"))
	require.NoError(t, f.Set("hazard", "flood"))
	require.NoError(t, f.Set("hazard", "tsunami"))

	hazards, err := f.GetStringSlice("hazard")
	require.NoError(t, err)
	assert.Equal(t, []string{"flood", "tsunami"}, hazards)
}

func TestServeFlags(t *testing.T) {
	assert.NotNil(t, serveCmd.Flags().Lookup("port"))
}
