package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// storageClient uses Application Default Credentials unless GCS_CREDENTIALS_JSON is set.
func storageClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); credJSON != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadBytesToGCS writes data to bucketName/objectName, replacing any previous object.
func UploadBytesToGCS(ctx context.Context, bucketName string, objectName string, data []byte, contentType string) error {
	if bucketName == "" || objectName == "" {
		return errors.New("bucket and object name are required")
	}
	client, err := storageClient(ctx)
	if err != nil {
		return fmt.Errorf("storage client: %w", err)
	}
	defer client.Close()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s/%s: %w", bucketName, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s/%s: %w", bucketName, objectName, err)
	}
	return nil
}
