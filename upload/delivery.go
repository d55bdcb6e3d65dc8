/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultBackoff bounds the delivery attempts of a single cycle. Reports that could not be
// delivered are not retried by later cycles, they stay in the local fallback directory.
var DefaultBackoff = wait.Backoff{
	Duration: time.Second,
	Factor:   2,
	Jitter:   0.1,
	Steps:    3,
}

// deliver calls attempt until it succeeds, fails with an error other than a retryable UploadStoreError
// or the backoff is exhausted.
func deliver(ctx context.Context, backoff wait.Backoff, attempt func(ctx context.Context) error) error {
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		lastErr = attempt(ctx)
		if lastErr == nil {
			return true, nil
		}

		var uploadErr *UploadStoreError
		if errors.As(lastErr, &uploadErr) && uploadErr.retryable() {
			return false, nil
		}

		return false, lastErr
	})
	if err != nil && lastErr != nil {
		return lastErr
	}

	return err
}

// checkResponse turns unsuccessful responses into an UploadStoreError.
func checkResponse(response *http.Response, message string) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(response.Body, 64*1024))

	return &UploadStoreError{Message: message, StatusCode: response.StatusCode, Body: string(body)}
}

// zipReport packs the report together with the given metadata files.
func zipReport(report *Report, metadataFiles []string) ([]byte, error) {
	buffer := &bytes.Buffer{}
	archive := zip.NewWriter(buffer)

	entry, err := archive.Create(report.Format.FileName())
	if err != nil {
		return nil, err
	}
	if _, err := entry.Write(report.Content); err != nil {
		return nil, err
	}

	for _, path := range metadataFiles {
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		entry, err := archive.Create(filepath.Base(path))
		if err != nil {
			return nil, err
		}
		if _, err := entry.Write(content); err != nil {
			return nil, err
		}
	}

	if err := archive.Close(); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}
