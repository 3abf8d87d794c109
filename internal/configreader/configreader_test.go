package configreader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/ytcampaigns/internal/timeutil"
)

type testConfig struct {
	Config   string                   `name:"config" toml:"config" yaml:"config"`
	EnvFile  string                   `name:"env_file" toml:"env_file" yaml:"env_file"`
	Addr     string                   `name:"addr" toml:"addr" yaml:"addr"`
	Level    logrus.Level             `name:"level" toml:"level" yaml:"level"`
	Workers  int                      `name:"workers" toml:"workers" yaml:"workers"`
	Seed     bool                     `name:"seed" toml:"seed" yaml:"seed"`
	Delay    timeutil.DayTimeDuration `name:"delay" toml:"delay" yaml:"delay"`
	APIKey   string                   `toml:"api_key" yaml:"api_key"`
	Internal string                   `name:"-"`
}

func writeFile(t *testing.T, name, content string) string {
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func defaults() testConfig {
	return testConfig{
		Addr:    ":8080",
		Level:   logrus.InfoLevel,
		Workers: 1,
		Delay:   timeutil.DayTimeDuration(time.Hour),
	}
}

func TestReadDefaults(t *testing.T) {
	a := assert.New(t)

	cfg := defaults()
	a.NoError(Read("test", nil, nil, &cfg))
	a.Equal(defaults(), cfg)
}

func TestReadArguments(t *testing.T) {
	a := assert.New(t)

	cfg := defaults()
	a.NoError(Read("test", []string{"-addr", ":9090", "-workers=3", "-seed", "-level", "debug", "-delay", "PT30M", "-api_key", "abc"}, nil, &cfg))
	a.Equal(":9090", cfg.Addr)
	a.Equal(3, cfg.Workers)
	a.True(cfg.Seed)
	a.Equal(logrus.DebugLevel, cfg.Level)
	a.Equal(time.Minute*30, cfg.Delay.Duration())
	a.Equal("abc", cfg.APIKey)
}

func TestReadEnvironment(t *testing.T) {
	a := assert.New(t)

	cfg := defaults()
	a.NoError(Read("test", nil, []string{"ADDR=:7070", "WORKERS=4", "SEED=yes", "LEVEL=warning", "DELAY=P1D"}, &cfg))
	a.Equal(":7070", cfg.Addr)
	a.Equal(4, cfg.Workers)
	a.True(cfg.Seed)
	a.Equal(logrus.WarnLevel, cfg.Level)
	a.Equal(time.Hour*24, cfg.Delay.Duration())
}

func TestReadEnvironmentInvalid(t *testing.T) {
	for _, env := range []string{"WORKERS=many", "SEED=perhaps", "LEVEL=loud", "DELAY=1h"} {
		t.Run(env, func(t *testing.T) {
			a := assert.New(t)

			cfg := defaults()
			a.Error(Read("test", nil, []string{env}, &cfg))
		})
	}
}

func TestReadTOML(t *testing.T) {
	a := assert.New(t)

	p := writeFile(t, "config.toml", "addr = \":6060\"\nworkers = 2\nlevel = \"error\"\ndelay = \"PT2H\"\n")

	cfg := defaults()
	a.NoError(Read("test", []string{"-config", p}, nil, &cfg))
	a.Equal(":6060", cfg.Addr)
	a.Equal(2, cfg.Workers)
	a.Equal(logrus.ErrorLevel, cfg.Level)
	a.Equal(time.Hour*2, cfg.Delay.Duration())
}

func TestReadYAMLWithOverrides(t *testing.T) {
	a := assert.New(t)

	p := writeFile(t, "config.yaml", "addr: \":5050\"\nworkers: 2\n")

	cfg := defaults()
	a.NoError(Read("test", []string{"-workers", "5"}, []string{"CONFIG=" + p, "ADDR=:4040"}, &cfg))
	a.Equal(":4040", cfg.Addr)
	a.Equal(5, cfg.Workers)
}

func TestReadDotenv(t *testing.T) {
	a := assert.New(t)

	p := writeFile(t, ".env", "ADDR=:3030\nAPI_KEY=from-dotenv\nWORKERS=6\n")

	cfg := defaults()
	a.NoError(Read("test", []string{"-env_file", p}, []string{"WORKERS=7"}, &cfg))
	a.Equal(":3030", cfg.Addr)
	a.Equal("from-dotenv", cfg.APIKey)
	a.Equal(7, cfg.Workers)
}

func TestReadMissingDotenv(t *testing.T) {
	a := assert.New(t)

	cfg := defaults()
	cfg.EnvFile = filepath.Join(t.TempDir(), "missing.env")
	a.NoError(Read("test", nil, nil, &cfg))
}

func TestReadUnknownFileType(t *testing.T) {
	a := assert.New(t)

	cfg := defaults()
	a.ErrorContains(Read("test", []string{"-config", "config.ini"}, nil, &cfg), "could not determine file type")
}

func TestReadRejectsNonPointer(t *testing.T) {
	a := assert.New(t)

	a.Error(Read("test", nil, nil, defaults()))
	a.Error(Read("test", nil, nil, new(int)))
}
