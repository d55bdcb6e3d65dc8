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
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

// TeamscaleServer holds the coordinates of a Teamscale project reports are uploaded to. Either
// Commit (branch:timestamp) or Revision must be set.
type TeamscaleServer struct {
	URL         string
	Project     string
	User        string
	AccessToken string
	Partition   string
	Commit      string
	Revision    string
	Message     string
}

// String returns the server coordinates without credentials.
func (s TeamscaleServer) String() string {
	target := "commit " + s.Commit
	if s.Revision != "" {
		target = "revision " + s.Revision
	}

	return fmt.Sprintf("Teamscale %s, project %s, partition %s, %s", s.URL, s.Project, s.Partition, target)
}

// TeamscaleStore uploads reports to the external report API of a Teamscale instance.
type TeamscaleStore struct {
	Backoff wait.Backoff

	client *http.Client
	files  *FileStore
	log    logr.Logger
	server TeamscaleServer
}

// NewTeamscaleStore creates a new TeamscaleStore.
func NewTeamscaleStore(files *FileStore, server TeamscaleServer, client *http.Client, log logr.Logger) *TeamscaleStore {
	return &TeamscaleStore{
		Backoff: DefaultBackoff,
		client:  client,
		files:   files,
		log:     log.WithName("teamscale-store"),
		server:  server,
	}
}

// Describe returns a human readable description of the store.
func (s *TeamscaleStore) Describe() string {
	return "Uploading to " + s.server.String() + " (fallback in case of network errors to: " + s.files.Describe() + ")"
}

// Store writes the report to the local fallback directory and uploads it afterwards. The session
// label of the report overrides the configured partition.
func (s *TeamscaleStore) Store(ctx context.Context, report *Report) error {
	path, err := s.files.Write(report)
	if err != nil {
		return err
	}

	if err := deliver(ctx, s.Backoff, func(ctx context.Context) error {
		return s.upload(ctx, report)
	}); err != nil {
		s.log.Error(err, "Upload failed, the report is kept locally", "server", s.server.String(), "file", path)
		return err
	}
	s.log.Info("Uploaded coverage", "server", s.server.String())

	return nil
}

func (s *TeamscaleStore) upload(ctx context.Context, report *Report) error {
	partition := s.server.Partition
	if report.Partition != "" {
		partition = report.Partition
	}

	query := url.Values{}
	query.Set("format", string(report.Format))
	query.Set("partition", partition)
	query.Set("message", s.server.Message)
	query.Set("adjusttimestamp", "true")
	query.Set("movetolastcommit", "true")
	if s.server.Revision != "" {
		query.Set("revision", s.server.Revision)
	} else {
		query.Set("t", s.server.Commit)
	}
	target := strings.TrimSuffix(s.server.URL, "/") + "/p/" + url.PathEscape(s.server.Project) +
		"/external-report/?" + query.Encode()

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("report", report.Format.FileName())
	if err != nil {
		return err
	}
	if _, err := part.Write(report.Content); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return errors.Wrapf(err, "invalid Teamscale URL %s", s.server.URL)
	}
	request.Header.Set("Content-Type", form.FormDataContentType())
	request.SetBasicAuth(s.server.User, s.server.AccessToken)

	response, err := s.client.Do(request)
	if err != nil {
		return &UploadStoreError{Message: "Failed to upload coverage to " + s.server.String(), Err: err}
	}
	defer response.Body.Close()

	return checkResponse(response, "Failed to upload coverage to "+s.server.String())
}
