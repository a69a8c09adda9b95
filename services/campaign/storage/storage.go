// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage uploads proof files (screenshots) and returns a durable
// reference that the submission row stores instead of the bytes.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MaxUploadBytes bounds a single proof upload.
const MaxUploadBytes = 5 << 20

// ObjectStore persists one object and returns its reference.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (ref string, err error)
}

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// DetectImageType sniffs data and returns its MIME type and file extension.
// Non-image payloads are rejected regardless of the client's declared type.
func DetectImageType(data []byte) (mime, ext string, err error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("file is empty")
	}
	if len(data) > MaxUploadBytes {
		return "", "", fmt.Errorf("file exceeds %d bytes", MaxUploadBytes)
	}
	mime = http.DetectContentType(data)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	ext, ok := imageExtensions[mime]
	if !ok {
		return "", "", fmt.Errorf("unsupported file type %q (png, jpeg, gif or webp)", mime)
	}
	return mime, ext, nil
}

// ObjectKey builds the key for a proof file:
//
//	submissions/<wallet>/<task id>/<unix nanos>.<ext>
func ObjectKey(wallet, taskID string, at time.Time, ext string) string {
	return fmt.Sprintf("submissions/%s/%s/%d.%s", wallet, taskID, at.UnixNano(), ext)
}
