package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageKey(t *testing.T) {
	assert.Equal(t, "uploads/abc.png", ImageKey("uploads", "abc", "png"))
	assert.Equal(t, "uploads/abc.jpeg", ImageKey("/uploads/", "abc", "JPEG"))
	assert.Equal(t, "abc.tiff", ImageKey("", "abc", "tiff"))
	assert.Equal(t, "a/b/abc", ImageKey("a/b", "abc", ""))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType("jpeg"))
	assert.Equal(t, "image/png", ContentType("PNG"))
	assert.Equal(t, "image/webp", ContentType("webp"))
	assert.Equal(t, "application/octet-stream", ContentType("heic"))
}

func TestDetectStorageType(t *testing.T) {
	assert.Equal(t, StorageTypeR2, detectStorageType("https://acct.r2.cloudflarestorage.com"))
	assert.Equal(t, StorageTypeS3, detectStorageType("s3.us-east-1.amazonaws.com"))
	assert.Equal(t, StorageTypeS3Compatible, detectStorageType("localhost:9000"))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "localhost:9000", normalizeEndpoint("http://localhost:9000/"))
	assert.Equal(t, "s3.example.com", normalizeEndpoint("https://s3.example.com/bucket/path"))
	assert.Equal(t, "", normalizeEndpoint(""))
}

func TestS3Config_RegionAndEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		cfg      S3Config
		region   string
		endpoint string
	}{
		{"minio", S3Config{Type: StorageTypeS3Compatible, Endpoint: "localhost:9000"}, "us-east-1", "http://localhost:9000"},
		{"r2", S3Config{Type: StorageTypeR2, Endpoint: "https://acct.r2.cloudflarestorage.com", UseSSL: true}, "auto", "https://acct.r2.cloudflarestorage.com"},
		{"aws default endpoint", S3Config{Type: StorageTypeS3, Region: "eu-west-1"}, "eu-west-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.region, tt.cfg.region())
			assert.Equal(t, tt.endpoint, tt.cfg.baseEndpoint())
		})
	}
}
