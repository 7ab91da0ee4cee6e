package credential_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/credential"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*credential.FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	cipher, err := cryptox.NewCipherFromFile(filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	path := filepath.Join(dir, "credentials.enc")
	return credential.NewFileStore(path, cipher), path
}

func testCredential(provider string) domain.Credential {
	now := time.Now()
	return domain.Credential{
		Provider:     provider,
		AccessToken:  "at-" + provider,
		RefreshToken: "rt-" + provider,
		ExpiresAt:    now.Add(time.Hour).UnixMilli(),
		TokenType:    "Bearer",
		Scope:        "read",
		CreatedAt:    now.UnixMilli(),
	}
}

func TestLoadAbsentFileReturnsEmptyMap(t *testing.T) {
	store, _ := newStore(t)

	creds, err := store.Load()
	require.NoError(t, err)
	require.Empty(t, creds)
}

func TestPutGetDelete(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.Put("freee", testCredential("freee")))
	require.NoError(t, store.Put("moneyforward", testCredential("moneyforward")))

	got, err := store.Get("freee")
	require.NoError(t, err)
	require.Equal(t, "at-freee", got.AccessToken)
	require.Equal(t, "rt-freee", got.RefreshToken)

	require.NoError(t, store.Delete("freee"))
	_, err = store.Get("freee")
	require.ErrorIs(t, err, credential.ErrNotFound)

	// Other providers survive the delete.
	_, err = store.Get("moneyforward")
	require.NoError(t, err)

	// Deleting an absent provider is a no-op.
	require.NoError(t, store.Delete("freee"))
}

func TestPutReplacesWholeCredential(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.Put("freee", testCredential("freee")))

	replacement := testCredential("freee")
	replacement.AccessToken = "at-new"
	replacement.RefreshToken = "rt-new"
	require.NoError(t, store.Put("freee", replacement))

	creds, err := store.Load()
	require.NoError(t, err)
	require.Len(t, creds, 1, "exactly one credential per provider")
	require.Equal(t, "at-new", creds["freee"].AccessToken)
}

func TestCredentialFileIsOwnerOnlyAndEncrypted(t *testing.T) {
	store, path := newStore(t)

	require.NoError(t, store.Put("freee", testCredential("freee")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "at-freee", "tokens must not appear in plaintext")
	require.NotContains(t, string(raw), "rt-freee")
}

func TestLoadCorruptBlobFails(t *testing.T) {
	store, path := newStore(t)

	require.NoError(t, store.Put("freee", testCredential("freee")))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := store.Load()
	require.ErrorIs(t, err, credential.ErrCorrupt)
}

func TestLoadWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	c1, err := cryptox.NewCipher([]byte("key-one"))
	require.NoError(t, err)
	require.NoError(t, credential.NewFileStore(path, c1).Put("freee", testCredential("freee")))

	c2, err := cryptox.NewCipher([]byte("key-two"))
	require.NoError(t, err)
	_, err = credential.NewFileStore(path, c2).Load()
	require.ErrorIs(t, err, credential.ErrCorrupt)
}
