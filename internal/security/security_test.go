package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignatureMissingHeader(t *testing.T) {
	err := VerifySignature([]byte("secret"), []byte("body"), "")
	require.Error(t, err)
}

func TestVerifySignatureValid(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"repository":"owner/r"}`)
	header := Sign(secret, body)

	err := VerifySignature(secret, body, header)
	assert.NoError(t, err)
}

func TestVerifySignatureFlippedIsInvalid(t *testing.T) {
	secret := []byte("s3cr3t")
	body := []byte(`{"repository":"owner/r"}`)
	header := Sign(secret, body)
	flipped := header[:len(header)-1] + "0"

	err := VerifySignature(secret, body, flipped)
	require.Error(t, err)
}

func TestSanitizeStringRedactsSecrets(t *testing.T) {
	out := SanitizeString(`password=hunter22 token=abc`)
	assert.NotContains(t, out, "hunter22")
}

func TestDedupWindowReturnsSameValueWithinWindow(t *testing.T) {
	d := NewDedupWindow(50*time.Millisecond, nil)
	d.Mark("owner/r:abc123", "dep-1")

	v, ok := d.SeenWithin("owner/r:abc123")
	require.True(t, ok)
	assert.Equal(t, "dep-1", v)
}

func TestDedupWindowExpires(t *testing.T) {
	d := NewDedupWindow(5*time.Millisecond, nil)
	d.Mark("k", "dep-1")
	time.Sleep(10 * time.Millisecond)

	_, ok := d.SeenWithin("k")
	assert.False(t, ok)
}
