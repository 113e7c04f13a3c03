package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHHMM(t *testing.T) {
	h, m, err := ParseHHMM("02:30")
	require.NoError(t, err)
	assert.Equal(t, 2, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseHHMM("2:30")
	assert.Error(t, err)

	_, _, err = ParseHHMM("24:00")
	assert.Error(t, err)

	_, _, err = ParseHHMM("23:60")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := &Config{}
	c.FromEnv()
	// store/source/target DSNs are required and not set by FromEnv.
	assert.Error(t, c.Validate())

	c.StoreDSN = "file::memory:"
	c.SourceDSN = "postgres://localhost/src"
	c.TargetDSN = "postgres://localhost/dst"
	assert.NoError(t, c.Validate())

	c.StoreDriver = "oracle"
	assert.Error(t, c.Validate())
}

func TestValidatePoolBounds(t *testing.T) {
	c := &Config{}
	c.FromEnv()
	c.StoreDSN = "file::memory:"
	c.SourceDSN = "postgres://localhost/src"
	c.TargetDSN = "postgres://localhost/dst"
	c.PoolMinConns = 5
	c.PoolMaxConns = 2
	assert.Error(t, c.Validate())
}
