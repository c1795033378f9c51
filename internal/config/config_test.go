package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPI(t *testing.T) {
	t.Run("MissingPublicKeyPath", func(t *testing.T) {
		cfg := &Config{}
		err := cfg.ValidateAPI()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth.public_key_path")
		assert.Contains(t, err.Error(), "AUTH_PUBLIC_KEY_PATH")
	})

	t.Run("PopulatedPathPasses", func(t *testing.T) {
		cfg := &Config{Auth: AuthConfig{PublicKeyPath: "/etc/auction/jwt_public.pem"}}
		assert.NoError(t, cfg.ValidateAPI())
	})
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("AUTH_PUBLIC_KEY_PATH", "/tmp/jwt_public.pem")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/jwt_public.pem", cfg.Auth.PublicKeyPath)
	assert.NoError(t, cfg.ValidateAPI())
}
