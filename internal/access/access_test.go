package access

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	r := NewRBAC()
	require.NoError(t, r.LoadPolicy(""))

	assert.True(t, r.Can(RoleBakery, "reservations", "hold"))
	assert.True(t, r.Can(RoleBakery, "orders", "read"))
	assert.False(t, r.Can(RoleBakery, "lockers", "approve"))
	assert.False(t, r.Can(RoleBakery, "lockers", "register"))

	assert.True(t, r.Can(RoleDevice, "lockers", "register"))
	assert.False(t, r.Can(RoleDevice, "reservations", "hold"))

	assert.True(t, r.Can(RoleAdmin, "lockers", "approve"))
	assert.True(t, r.Can(RoleAdmin, "dashboard", "read"))

	assert.False(t, r.Can("", "reservations", "read"))
	assert.False(t, r.Can("stranger", "reservations", "read"))

	assert.Equal(t, []string{"admin", "bakery"}, r.Roles(RoleAdmin))
}

func TestCanWithoutPolicy(t *testing.T) {
	assert.False(t, NewRBAC().Can(RoleAdmin, "lockers", "approve"))
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_role: viewer
roles:
  viewer:
    permissions:
      - resource: orders
        actions: [read]
  bakery:
    permissions:
      - resource: reservations
        actions: ["*"]
inheritance:
  bakery: [viewer]
`), 0o600))

	r := NewRBAC()
	require.NoError(t, r.LoadPolicy(path))
	assert.True(t, r.Can("", "orders", "read"))
	assert.True(t, r.Can(RoleBakery, "orders", "read"))
	assert.True(t, r.Can(RoleBakery, "reservations", "anything"))
	assert.False(t, r.Can("viewer", "reservations", "hold"))

	// reload drops cached decisions
	require.NoError(t, r.LoadPolicyBytes([]byte("roles: {viewer: {}}")))
	assert.False(t, r.Can("viewer", "orders", "read"))
}

func TestLoadPolicyErrors(t *testing.T) {
	r := NewRBAC()
	assert.Error(t, r.LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, r.LoadPolicyBytes([]byte("roles: [")))
	assert.Error(t, r.LoadPolicyBytes([]byte("roles: {a: {}}\ninheritance: {a: [ghost]}")))
}

func TestValidEmail(t *testing.T) {
	for _, ok := range []string{"shop@bakery.ro", "a.b+c@x.example.com"} {
		assert.NoError(t, ValidEmail(ok), ok)
	}
	assert.ErrorIs(t, ValidEmail(""), ErrMissingEmail)
	for _, bad := range []string{"@bakery.ro", "shop@", "shop@bakery", "sh op@bakery.ro"} {
		assert.ErrorIs(t, ValidEmail(bad), ErrInvalidEmail, bad)
	}
	assert.Equal(t, "shop@bakery.ro", NormalizeEmail("  Shop@Bakery.RO "))
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("croissant")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$v=19$")

	ok, err := VerifyPassword("croissant", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("baguette", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := HashPassword("croissant")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salted")

	for _, bad := range []string{"", "plain", "$bcrypt$x$y$z$w", "$argon2id$v=19$m=x$a$b"} {
		_, err := VerifyPassword("croissant", bad)
		assert.ErrorIs(t, err, ErrMalformedHash, bad)
	}
}
