package services

import (
	"encoding/base64"
	"testing"

	"economy-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinkProof(t *testing.T) {
	for _, raw := range []string{"not-a-url", "", "ftp://example.com/x", "https://localhost", "http://"} {
		_, err := ParseProof(models.VerificationLink, raw)
		require.ErrorIs(t, err, ErrValidationFailed, raw)
	}

	a, err := ParseProof(models.VerificationLink, "https://www.Example.com/posts/42/")
	require.NoError(t, err)
	b, err := ParseProof(models.VerificationLink, "http://example.com/posts/42")
	require.NoError(t, err)
	assert.Equal(t, a.Key, b.Key)
	assert.Equal(t, "example.com/posts/42", a.Key)
}

func TestParsePhotoProof(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake image"))
	p, err := ParseProof(models.VerificationPhoto, "data:image/png;base64,"+payload)
	require.NoError(t, err)
	assert.Equal(t, "image/png", p.ContentType)
	assert.Equal(t, "png", p.Extension())
	assert.Contains(t, p.Key, "sha256:")
	assert.NotEmpty(t, p.Data)

	_, err = ParseProof(models.VerificationPhoto, "https://example.com/cat.png")
	require.ErrorIs(t, err, ErrValidationFailed)
	_, err = ParseProof(models.VerificationPhoto, "data:text/plain;base64,"+payload)
	require.ErrorIs(t, err, ErrValidationFailed)
}

func TestParseConfirmationProof(t *testing.T) {
	p, err := ParseProof(models.VerificationConfirmation, " done ")
	require.NoError(t, err)
	assert.Empty(t, p.Key)

	_, err = ParseProof(models.VerificationConfirmation, "   ")
	require.ErrorIs(t, err, ErrValidationFailed)
}
