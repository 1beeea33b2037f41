package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  listen_addr: "127.0.0.1:8080"
database:
  driver: pgx
  control_dsn: "postgres://blueolive@127.0.0.1:5432/blueolive?sslmode=disable"
  control_password: "vault:secret/blueolive/db#password"
tenancy:
  idle_ttl: 10m
provisioning:
  superuser_host: 127.0.0.1
  superuser_user: postgres
  superuser_password: postgres
secrets:
  sealer: box
  box_key: "BwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwc="
  session_key: "BwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwc="
`

type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := f[ref]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func writeRoot(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", "global.yaml"), []byte(body), 0o644))
	return root
}

func TestLoadFromAppliesLayersAndDefaults(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	t.Setenv("BLUEOLIVE_TENANCY__LOOKUP_FIELD", "slug")

	cfg, err := LoadFrom(context.Background(), root, fakeResolver{
		"vault:secret/blueolive/db#password": "from-vault",
	})
	require.NoError(t, err)

	assert.Equal(t, "from-vault", cfg.Database.ControlPassword)
	assert.Equal(t, "slug", cfg.Tenancy.LookupField)
	assert.Equal(t, 10*time.Minute, cfg.Tenancy.IdleTTL)
	assert.Equal(t, "localhost", cfg.Tenancy.DevMarker)
	assert.Equal(t, "public", cfg.Tenancy.FallbackSchema)
	assert.Equal(t, DefaultPublicPaths, cfg.Tenancy.PublicPaths)
	assert.Equal(t, "X-Tenant", cfg.Tenancy.TenantHeader)
	assert.Equal(t, "postgres", cfg.Provisioning.TenantDBUser)
	assert.Equal(t, 5432, cfg.Provisioning.TenantDBPort)
	assert.Equal(t, root, cfg.Paths.Root)
	assert.Same(t, cfg, Get())
}

func TestLoadFromNeedsResolverForVaultRefs(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	_, err := LoadFrom(context.Background(), root, nil)
	assert.Error(t, err)
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	root := writeRoot(t, sampleYAML+"\nlog:\n  level: chatty\n")
	_, err := LoadFrom(context.Background(), root, fakeResolver{
		"vault:secret/blueolive/db#password": "x",
	})
	assert.Error(t, err)
}

func TestSQLIdentRule(t *testing.T) {
	for s, want := range map[string]bool{
		"public":       true,
		"acme_main":    true,
		"_x":           true,
		"Acme":         false,
		"9shop":        false,
		"bad-name":     false,
		`x"; drop --`:  false,
	} {
		assert.Equal(t, want, sqlIdent.MatchString(s), s)
	}
}

func TestUsesVault(t *testing.T) {
	root := writeRoot(t, sampleYAML)
	assert.True(t, UsesVault(root))

	plain := writeRoot(t, "http:\n  listen_addr: \":8080\"\n")
	assert.False(t, UsesVault(plain))
}
