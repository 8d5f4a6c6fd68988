package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ordbot/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("L1aW4aubDFB7yfras2S1mN3bqg9nwySY8nkoLmJebSLD5BWv3ENZ", "correct horse")
	require.NoError(t, err)

	key, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "L1aW4aubDFB7yfras2S1mN3bqg9nwySY8nkoLmJebSLD5BWv3ENZ", key)
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	blob, err := EncryptKey("secret-key", "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptKey("", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("key", "")
	assert.Error(t, err)
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	_, err := DecryptKey([]byte(`{"version":99,"salt":"","nonce":"","ciphertext":""}`), "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestLoadKeyPrefersRawKey(t *testing.T) {
	key, err := LoadKey(Config{RawKey: "inline-key", EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "inline-key", key)
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey("file-key", "pw")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "funding.key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	key, err := LoadKey(Config{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}

func TestLoadKeyRequiresASource(t *testing.T) {
	_, err := LoadKey(Config{})
	assert.Error(t, err)
}

func TestPassthroughSigner(t *testing.T) {
	var s domain.Signer = PassthroughSigner{}

	signed, err := s.Sign(&domain.UnsignedTemplate{PSBTBase64: "psbt-data"})
	require.NoError(t, err)
	assert.Equal(t, "psbt-data", signed)

	signed, err = s.Sign(nil)
	require.NoError(t, err)
	assert.Empty(t, signed)
}
