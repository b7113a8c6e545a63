package supabase

import (
	"bytes"
	"fmt"

	storage "github.com/supabase-community/storage-go"
)

// StorageClient scopes the shared Supabase client's storage API to the
// certificate bucket. The bucket is private; callers hand out signed URLs.
type StorageClient struct {
	client *storage.Client
	bucket string
}

func NewStorageClient(client *Client, bucket string) *StorageClient {
	return &StorageClient{
		client: client.Supabase.Storage,
		bucket: bucket,
	}
}

// Upload writes an object at the given path. Upsert is off so an existing
// object is never silently clobbered.
func (s *StorageClient) Upload(path string, data []byte, contentType string) error {
	upsert := false
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (s *StorageClient) Download(path string) ([]byte, error) {
	data, err := s.client.DownloadFile(s.bucket, path)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	return data, nil
}

func (s *StorageClient) SignedURL(path string, ttlSeconds int) (string, error) {
	resp, err := s.client.CreateSignedUrl(s.bucket, path, ttlSeconds)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", path, err)
	}
	return resp.SignedURL, nil
}

func (s *StorageClient) Delete(path string) error {
	_, err := s.client.RemoveFile(s.bucket, []string{path})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
