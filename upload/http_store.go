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
	"bytes"
	"context"
	"mime/multipart"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

// HTTPStore uploads reports as a zip archive, together with additional metadata files, to an
// arbitrary HTTP endpoint. The archive is sent as multipart form field "file" named coverage.zip.
type HTTPStore struct {
	Backoff wait.Backoff

	client        *http.Client
	files         *FileStore
	log           logr.Logger
	metadataFiles []string
	url           string
}

// NewHTTPStore creates a new HTTPStore.
func NewHTTPStore(files *FileStore, url string, metadataFiles []string, client *http.Client, log logr.Logger) *HTTPStore {
	return &HTTPStore{
		Backoff:       DefaultBackoff,
		client:        client,
		files:         files,
		log:           log.WithName("http-store"),
		metadataFiles: metadataFiles,
		url:           url,
	}
}

// Describe returns a human readable description of the store.
func (s *HTTPStore) Describe() string {
	return "Uploading to " + s.url + " (fallback in case of network errors to: " + s.files.Describe() + ")"
}

// Store writes the report to the local fallback directory and uploads it afterwards.
func (s *HTTPStore) Store(ctx context.Context, report *Report) error {
	path, err := s.files.Write(report)
	if err != nil {
		return err
	}

	archive, err := zipReport(report, s.metadataFiles)
	if err != nil {
		return &UploadStoreError{Message: "Failed to pack coverage archive", Err: err}
	}

	if err := deliver(ctx, s.Backoff, func(ctx context.Context) error {
		return s.upload(ctx, archive)
	}); err != nil {
		s.log.Error(err, "Upload failed, the report is kept locally", "url", s.url, "file", path)
		return err
	}
	s.log.Info("Uploaded coverage", "url", s.url)

	return nil
}

func (s *HTTPStore) upload(ctx context.Context, archive []byte) error {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", "coverage.zip")
	if err != nil {
		return err
	}
	if _, err := part.Write(archive); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return errors.Wrapf(err, "invalid upload URL %s", s.url)
	}
	request.Header.Set("Content-Type", form.FormDataContentType())

	response, err := s.client.Do(request)
	if err != nil {
		return &UploadStoreError{Message: "Failed to upload coverage to " + s.url, Err: err}
	}
	defer response.Body.Close()

	return checkResponse(response, "Failed to upload coverage to "+s.url)
}
