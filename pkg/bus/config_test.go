package bus_test

import (
	"testing"

	"github.com/aetherbus/aetherbus/pkg/bus"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := bus.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "AG1", cfg.Namespace)
	require.EqualValues(t, 10000, cfg.StreamMaxLen)
	require.Equal(t, 131072, cfg.EnvelopeSizeLimit)
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("NAMESPACE", "TESTNS")
	t.Setenv("BUS_STREAM_MAXLEN", "500")

	cfg, err := bus.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "TESTNS", cfg.Namespace)
	require.EqualValues(t, 500, cfg.StreamMaxLen)
}
