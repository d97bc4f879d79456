package crypto

import (
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "nvx1"), encoded)

	parsed, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr.Bytes(), parsed)

	raw := addr.Bytes()
	hexParsed, err := ParseAddress("0x" + hex.EncodeToString(raw[:]))
	require.NoError(t, err)
	require.Equal(t, raw, hexParsed)
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "0x1234", "nvx1qqqq", "cosmos1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"} {
		_, err := ParseAddress(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrInvalidAddress), in)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "owner.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse"))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Bytes(), loaded.PubKey().Address().Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestLoadOrCreateKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.json")
	first, created, err := LoadOrCreateKeystore(path, "pw")
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := LoadOrCreateKeystore(path, "pw")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.PubKey().Address().Bytes(), second.PubKey().Address().Bytes())
}
