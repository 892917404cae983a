package arguments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature is returned for a tampered or foreign download URL
	ErrInvalidSignature = errors.New("invalid download signature")
	// ErrExpired is returned for a download URL past its expiry
	ErrExpired = errors.New("download url expired")
)

// URLSigner turns a storage key into a time-boxed download reference
type URLSigner interface {
	SignedURL(key string, ttl time.Duration) (string, error)
}

// HMACSigner issues download URLs of the form
// <base>/files/<key>?expires=<unix>&sig=<hex hmac-sha256>
type HMACSigner struct {
	BaseURL string
	Secret  []byte
	Now     func() time.Time
}

// NewHMACSigner creates a signer rooted at baseURL
func NewHMACSigner(baseURL string, secret []byte) *HMACSigner {
	return &HMACSigner{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		Now:     time.Now,
	}
}

func (s *HMACSigner) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL implements URLSigner
func (s *HMACSigner) SignedURL(key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("storage key cannot be empty")
	}
	if len(s.Secret) == 0 {
		return "", errors.New("signing secret is not configured")
	}

	expires := s.Now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))

	return fmt.Sprintf("%s/files/%s?%s", s.BaseURL, url.PathEscape(key), q.Encode()), nil
}

// Verify checks a signed URL and returns the storage key it grants
func (s *HMACSigner) Verify(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	path := u.EscapedPath()
	idx := strings.LastIndex(path, "/files/")
	if idx < 0 {
		return "", ErrInvalidSignature
	}
	key, err := url.PathUnescape(path[idx+len("/files/"):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		return "", ErrInvalidSignature
	}
	want := s.sign(key, expires)
	if !hmac.Equal([]byte(want), []byte(u.Query().Get("sig"))) {
		return "", ErrInvalidSignature
	}
	if s.Now().Unix() > expires {
		return "", ErrExpired
	}
	return key, nil
}
