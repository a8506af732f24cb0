package profiling_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/profiling"
)

func TestStartPyroscope_Disabled(t *testing.T) {
	t.Parallel()

	p, err := profiling.StartPyroscope("sniper", "dev", profiling.Config{}, logger.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, p.Stop())
}

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var c profiling.Config
	c.SetDefaults()
	assert.Equal(t, "6060", c.PprofPort)
	assert.Equal(t, "development", c.Environment)
}
