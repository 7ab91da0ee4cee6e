package cryptox_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := cryptox.NewCipher([]byte("test-key-material-12345"))
	require.NoError(t, err)

	plaintext := []byte(`{"freee":{"access_token":"secret"}}`)

	blob, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, blob)

	decrypted, err := c.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesDistinctBlobs(t *testing.T) {
	c, err := cryptox.NewCipher([]byte("test-key-material-12345"))
	require.NoError(t, err)

	plaintext := []byte("same plaintext")

	blob1, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	blob2, err := c.Encrypt(plaintext)
	require.NoError(t, err)

	require.NotEqual(t, blob1, blob2, "random nonce should produce distinct ciphertexts")
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	c, err := cryptox.NewCipher([]byte("test-key-material-12345"))
	require.NoError(t, err)

	blob, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff

	_, err = c.Decrypt(blob)
	require.ErrorIs(t, err, cryptox.ErrDecrypt)
}

func TestDecryptRejectsForeignKey(t *testing.T) {
	c1, err := cryptox.NewCipher([]byte("key-one"))
	require.NoError(t, err)
	c2, err := cryptox.NewCipher([]byte("key-two"))
	require.NoError(t, err)

	blob, err := c1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = c2.Decrypt(blob)
	require.ErrorIs(t, err, cryptox.ErrDecrypt)
}

func TestNewCipherFromFileGeneratesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	c1, err := cryptox.NewCipherFromFile(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "key file must be owner-only")

	// Reloading the same file yields a cipher that can open earlier blobs.
	blob, err := c1.Encrypt([]byte("persisted"))
	require.NoError(t, err)

	c2, err := cryptox.NewCipherFromFile(path)
	require.NoError(t, err)

	decrypted, err := c2.Decrypt(blob)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), decrypted)
}

func TestFingerprintDeterministic(t *testing.T) {
	a := cryptox.Fingerprint([]byte("hello"))
	b := cryptox.Fingerprint([]byte("hello"))
	c := cryptox.Fingerprint([]byte("world"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 43)
}
