// Package photostore persists the uploaded meal photos in a cloud
// storage bucket and hands out their public URLs.
package photostore

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// Store wraps one bucket holding the meal photos.
type Store struct {
	bucket *storage.BucketHandle
	name   string
}

func New(ctx context.Context, bucketName string) (*Store, error) {

	if bucketName == "" {
		return nil, fmt.Errorf("unable to create photo store without a bucket name")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to init the storage client: %v", err)
	}

	return &Store{
		bucket: client.Bucket(bucketName),
		name:   bucketName,
	}, nil
}

// extensionFor maps the accepted image mime types to file extensions.
func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// SavePhoto writes the image under meals/<mealID> and returns the
// object path together with its public URL.
func (s *Store) SavePhoto(ctx context.Context, mealID string, data []byte, mime string) (string, string, error) {

	path := fmt.Sprintf("meals/%s%s", mealID, extensionFor(mime))

	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = mime
	w.CacheControl = "public, max-age=86400"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", "", fmt.Errorf("unable to write photo object %s. error: %v", path, err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("unable to finish photo object %s. error: %v", path, err)
	}

	url := fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.name, path)
	return path, url, nil
}

// DeletePhoto removes the stored object. Deleting a missing object is
// not treated as a failure.
func (s *Store) DeletePhoto(ctx context.Context, path string) error {

	if path == "" {
		return nil
	}

	err := s.bucket.Object(path).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to delete photo object %s. error: %v", path, err)
	}
	return nil
}
