package reservation

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"easybox-network/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	tok, err := NewToken(42)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "reservation:42:"))

	id, nonce, err := ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	require.NoError(t, err)
	assert.Len(t, raw, 5)

	other, err := NewToken(42)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestParseTokenRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		"reservation",
		"reservation:1",
		"reservation:1:",
		"reservation::abc",
		"reservation:0:abc",
		"reservation:-1:abc",
		"reservation:+1:abc",
		"reservation:x1:abc",
		"reservation:1:abc:def",
		"booking:1:abc",
		"reservation:1:ab=c",
		"reservation:1:a+b/",
		"reservation:99999999999999999999:abc",
	} {
		_, _, err := ParseToken(raw)
		assert.ErrorIs(t, err, utils.ErrInvalidFormat, raw)
	}
}

func TestRenderQR(t *testing.T) {
	data, err := RenderQR("reservation:1:abcdefg", 128)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(data)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
}
