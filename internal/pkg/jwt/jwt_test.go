package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	gen := NewGenerator(priv, "accounts", "subscriptions", time.Hour)
	token, jti, err := gen.GenerateAccessToken(42, []string{RoleCustomer})
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	claims, err := NewVerifier(&priv.PublicKey, "accounts", "subscriptions").VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.IdentityID)
	assert.True(t, claims.HasRole(RoleCustomer))
	assert.False(t, claims.HasAnyRole(RoleSystem))
	assert.Equal(t, jti, claims.ID)

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := NewVerifier(&priv.PublicKey, "other", "subscriptions").Verify(token)
		assert.ErrorContains(t, err, "invalid issuer")
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := NewVerifier(&priv.PublicKey, "accounts", "billing").Verify(token)
		assert.ErrorContains(t, err, "invalid audience")
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		_, err = NewVerifier(&other.PublicKey, "accounts", "subscriptions").Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		expired, _, err := NewGenerator(priv, "accounts", "subscriptions", -time.Minute).GenerateAccessToken(42, nil)
		require.NoError(t, err)
		_, err = NewVerifier(&priv.PublicKey, "accounts", "subscriptions").Verify(expired)
		assert.Error(t, err)
	})
}

func TestLoadKeysFromPEM(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	dir := t.TempDir()

	privPath := filepath.Join(dir, "private.pem")
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}), 0o600))

	pubPath := filepath.Join(dir, "public.pem")
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), 0o600))

	loaded, err := LoadRSAPrivateKeyFromPEM(privPath)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(priv))

	ver, err := LoadVerifier(Config{PubPath: pubPath, Issuer: "accounts", Audience: "subscriptions"})
	require.NoError(t, err)
	assert.True(t, ver.pub.Equal(&priv.PublicKey))

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, err = LoadVerifier(Config{PubPath: bad})
	assert.Error(t, err)
	_, err = LoadRSAPrivateKeyFromPEM(bad)
	assert.Error(t, err)

	pkcs1 := filepath.Join(dir, "pkcs1.pem")
	require.NoError(t, os.WriteFile(pkcs1, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}), 0o600))
	loaded, err = LoadRSAPrivateKeyFromPEM(pkcs1)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(priv))
}
