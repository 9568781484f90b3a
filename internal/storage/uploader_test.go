package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKeyLayout(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	key := objectKey("/photos/", Key{AccountID: "acc-1", EntityID: "cust-9"}, "image/webp", now)

	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "photos", parts[0])
	assert.Equal(t, "acc-1", parts[1])
	assert.Equal(t, "cust-9", parts[2])
	assert.True(t, strings.HasPrefix(parts[3], "1792238400000-"))
	assert.True(t, strings.HasSuffix(parts[3], ".webp"))
}

func TestObjectKeysAreUnique(t *testing.T) {
	now := time.Now()
	k := Key{AccountID: "a", EntityID: "b"}
	assert.NotEqual(t, objectKey("p", k, "image/png", now), objectKey("p", k, "image/png", now))
}

func TestObjectKeyWithoutEntity(t *testing.T) {
	key := objectKey("p", Key{AccountID: "a"}, "image/jpeg", time.Now())
	assert.Contains(t, key, "p/a/misc/")
	assert.True(t, strings.HasSuffix(key, ".jpg"))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/p/a/b/x.png", publicURL("https://cdn.example.com/", "p/a/b/x.png"))
}

func TestNewUploaderValidatesConfig(t *testing.T) {
	_, err := NewUploader(Config{Region: "eu", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://x"})
	assert.Error(t, err)

	u, err := NewUploader(Config{Bucket: "b", Region: "eu", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://x"})
	require.NoError(t, err)
	assert.Equal(t, "photos", u.cfg.Prefix)
}
