// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore writes proof files to a Google Cloud Storage bucket.
type GCSStore struct {
	client     *storage.Client
	BucketName string
}

// NewGCSStore connects with a service-account key file. An empty saKeyPath
// uses application default credentials.
func NewGCSStore(ctx context.Context, bucketName, saKeyPath string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, BucketName: bucketName}, nil
}

// Put uploads data and returns a gs:// reference.
func (g *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	writer := g.client.Bucket(g.BucketName).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "private, max-age=0"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.BucketName, key), nil
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

var _ ObjectStore = (*GCSStore)(nil)
