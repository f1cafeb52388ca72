package sdk

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StorageClient signs attachment paths against the hosted storage API
type StorageClient struct {
	c      *Client
	bucket string
}

// NewStorageClient creates a storage client for one bucket
func NewStorageClient(storageURL, bucket string, opts ...ClientOption) (*StorageClient, error) {
	c, err := NewClient(storageURL, opts...)
	if err != nil {
		return nil, err
	}
	// storage routes are not role scoped
	c.prefix = ""
	return &StorageClient{c: c, bucket: bucket}, nil
}

// Bucket returns the bucket name
func (s *StorageClient) Bucket() string {
	return s.bucket
}

// SetToken replaces the access token
func (s *StorageClient) SetToken(token string) {
	s.c.SetToken(token)
}

// CreateSignedURL returns an absolute URL for path valid for expiresIn
func (s *StorageClient) CreateSignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty storage path")
	}

	var result SignURLResponse
	reqPath := "/object/sign/" + escapePath(s.bucket) + "/" + escapePath(path)
	if err := s.c.post(ctx, reqPath, &SignURLRequest{ExpiresIn: int64(expiresIn / time.Second)}, &result); err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", path, err)
	}
	if result.SignedURL == "" {
		return "", fmt.Errorf("failed to sign %s: empty signed url", path)
	}

	if strings.HasPrefix(result.SignedURL, "http://") || strings.HasPrefix(result.SignedURL, "https://") {
		return result.SignedURL, nil
	}
	return s.c.baseURL + "/" + strings.TrimLeft(result.SignedURL, "/"), nil
}
