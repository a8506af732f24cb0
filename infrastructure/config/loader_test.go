package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string        `env:"SNIPER_TEST_NAME"    yaml:"name"`
	Workers int           `env:"SNIPER_TEST_WORKERS" yaml:"workers"`
	Poll    time.Duration `env:"SNIPER_TEST_POLL"    yaml:"poll"`
	Debug   bool          `env:"SNIPER_TEST_DEBUG"   yaml:"debug"`
	Origins []string      `env:"SNIPER_TEST_ORIGINS" yaml:"origins"`
	Nested  struct {
		Ratio float64 `env:"SNIPER_TEST_RATIO" yaml:"ratio"`
	} `yaml:"nested"`
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeYAML(t, "name: file\nworkers: 2\npoll: 1s\nnested:\n  ratio: 0.5\n")
	t.Setenv("SNIPER_TEST_WORKERS", "8")
	t.Setenv("SNIPER_TEST_POLL", "250ms")
	t.Setenv("SNIPER_TEST_DEBUG", "yes")
	t.Setenv("SNIPER_TEST_ORIGINS", "a.example, ,b.example")
	t.Setenv("SNIPER_TEST_RATIO", "0.25")

	cfg, err := config.Load[sample](path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Name)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Origins)
	assert.InDelta(t, 0.25, cfg.Nested.Ratio, 1e-9)
}

func TestLoadWithDefaults_MissingFile(t *testing.T) {
	t.Setenv("SNIPER_TEST_NAME", "from-env")

	cfg, err := config.LoadWithDefaults[sample](filepath.Join(t.TempDir(), "absent.yml"), func(s *sample) {
		s.Name = "default"
		s.Workers = 4
	})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeYAML(t, "workers: [\n")

	_, err := config.Load[sample](path)
	require.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "config.yml", config.GetConfigPath("config.yml"))

	t.Setenv("CONFIG_PATH", "/etc/sniper.yml")
	assert.Equal(t, "/etc/sniper.yml", config.GetConfigPath("config.yml"))
}

func TestServerConfig_Defaults(t *testing.T) {
	t.Parallel()

	var s config.ServerConfig
	s.SetDefaults()
	assert.Equal(t, ":8090", s.Address())
	assert.NoError(t, s.Validate())

	s.Port = 70000
	var verr *config.ValidationError
	require.ErrorAs(t, s.Validate(), &verr)
	assert.Equal(t, "server.port", verr.Field)
}
