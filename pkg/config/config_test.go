package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Name    string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"5s"`
	Retries int           `split_words:"true" default:"1"`
}

func TestNewReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SAMPLECFG_NAME=shop\nSAMPLECFG_RETRIES=3\n"), 0o600))

	SetEnvFile(path)
	t.Cleanup(func() {
		SetEnvFile("")
		os.Unsetenv("SAMPLECFG_NAME")
		os.Unsetenv("SAMPLECFG_RETRIES")
	})

	conf, err := New[sampleConfig]("SAMPLECFG")
	require.NoError(t, err)
	require.Equal(t, "shop", conf.Name)
	require.Equal(t, 3, conf.Retries)
	require.Equal(t, 5*time.Second, conf.Timeout)
}

func TestNewEnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SAMPLEWIN_NAME=fromfile\n"), 0o600))

	t.Setenv("SAMPLEWIN_NAME", "fromenv")
	SetEnvFile(path)
	t.Cleanup(func() { SetEnvFile("") })

	conf, err := New[sampleConfig]("SAMPLEWIN")
	require.NoError(t, err)
	require.Equal(t, "fromenv", conf.Name)
}

func TestNewMissingRequired(t *testing.T) {
	SetEnvFile("")
	_, err := New[sampleConfig]("SAMPLEMISSING")
	require.Error(t, err)
}

func TestMustNewPanicsOnError(t *testing.T) {
	SetEnvFile(filepath.Join(t.TempDir(), "does-not-exist.env"))
	t.Cleanup(func() { SetEnvFile("") })

	require.Panics(t, func() {
		MustNew[sampleConfig]("SAMPLEPANIC")
	})
}
