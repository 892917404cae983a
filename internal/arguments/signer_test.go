package arguments

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	t.Parallel()
	s := NewHMACSigner("https://chat.example.com/api/", []byte("k"))

	url, err := s.SignedURL("uploads/a b.csv", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://chat.example.com/api/files/"))

	key, err := s.Verify(url)
	require.NoError(t, err)
	assert.Equal(t, "uploads/a b.csv", key)
}

func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()
	s := NewHMACSigner("https://chat.example.com", []byte("k"))

	url, err := s.SignedURL("uploads/a.csv", time.Minute)
	require.NoError(t, err)

	tampered := strings.Replace(url, "a.csv", "b.csv", 1)
	_, err = s.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other := NewHMACSigner("https://chat.example.com", []byte("other"))
	_, err = other.Verify(url)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()
	s := NewHMACSigner("https://chat.example.com", []byte("k"))
	now := time.Now()
	s.Now = func() time.Time { return now }

	url, err := s.SignedURL("uploads/a.csv", time.Minute)
	require.NoError(t, err)

	s.Now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = s.Verify(url)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSignedURLRequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := NewHMACSigner("https://x", nil).SignedURL("k", time.Minute)
	assert.Error(t, err)
}
