package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ObjectUploader stores exported reports. GCSUploader is the production implementation.
type ObjectUploader interface {
	Upload(ctx context.Context, objectName string, contentType string, body io.Reader) (string, error)
}

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

type GCSUploader struct {
	Bucket string
	Prefix string
}

func NewGCSUploaderFromEnv() (*GCSUploader, error) {
	bucketName := os.Getenv("GCS_BUCKET")
	if bucketName == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	return &GCSUploader{Bucket: bucketName, Prefix: strings.Trim(os.Getenv("GCS_REPORT_PREFIX"), "/")}, nil
}

// Upload writes the object and returns its gs:// URI.
func (u *GCSUploader) Upload(ctx context.Context, objectName string, contentType string, body io.Reader) (string, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if u.Prefix != "" {
		objectName = u.Prefix + "/" + strings.TrimLeft(objectName, "/")
	}

	wc := client.Bucket(u.Bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, body); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to write %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", u.Bucket, objectName), nil
}

// LocalUploader writes objects below Dir; used by the CLI when no bucket is configured.
type LocalUploader struct {
	Dir string
}

func (u *LocalUploader) Upload(_ context.Context, objectName string, _ string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	path := strings.TrimRight(u.Dir, "/") + "/" + strings.ReplaceAll(objectName, "/", "_")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
