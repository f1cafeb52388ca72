package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
api:
  base_url: http://localhost:3000/api
realtime:
  url: ws://localhost:4000
storage:
  url: http://localhost:5000/storage/v1
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.API.DialTimeout)
	assert.Equal(t, 25*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, time.Hour, cfg.Storage.SignedURLExpiry)
	assert.Equal(t, 55*time.Minute, cfg.Storage.CacheTTL)
	assert.Equal(t, 50, cfg.Messaging.PageSize)
	assert.Equal(t, 10*time.Second, cfg.Messaging.ReconcileInterval)
	assert.Equal(t, 3*time.Second, cfg.Messaging.TypingTTL)
	assert.Equal(t, int64(10<<20), cfg.Messaging.MaxAttachmentSize)
	assert.NotEmpty(t, cfg.Messaging.AllowedMimeTypes)
	assert.Equal(t, "member", cfg.Identity.DefaultRole)
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ECOMM_API_ACCESS_TOKEN", "env-token")
	t.Setenv("ECOMM_IDENTITY_JWT_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, `
api:
  base_url: http://localhost:3000/api
realtime:
  url: ws://localhost:4000
storage:
  url: http://localhost:5000/storage/v1
  signed_url_expiry: 30m
  cache_ttl: 2h
messaging:
  reconcile_interval: -1s
  max_attachments: 3
`))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.API.AccessToken)
	assert.Equal(t, "env-secret", cfg.Identity.JWTSecret)
	assert.Equal(t, 30*time.Minute, cfg.Storage.SignedURLExpiry)
	assert.Equal(t, 25*time.Minute, cfg.Storage.CacheTTL, "cache ttl must stay below the signed url expiry")
	assert.True(t, cfg.Messaging.ReconcileInterval < 0)
	assert.Equal(t, 3, cfg.Messaging.MaxAttachments)
}

func TestLoadValidation(t *testing.T) {
	tcases := []struct {
		name string
		body string
	}{
		{name: "missing api", body: "realtime:\n  url: ws://x\nstorage:\n  url: http://x\n"},
		{name: "missing realtime", body: "api:\n  base_url: http://x\nstorage:\n  url: http://x\n"},
		{name: "missing storage", body: "api:\n  base_url: http://x\nrealtime:\n  url: ws://x\n"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
