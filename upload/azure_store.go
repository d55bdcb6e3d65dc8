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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

const azureAPIVersion = "2018-03-28"

// AzureConfig holds the location of an Azure file share directory and the account key used to
// sign requests to it.
type AzureConfig struct {
	URL       string
	AccessKey string
}

// AzureStore uploads reports to an Azure file storage share.
type AzureStore struct {
	Backoff wait.Backoff

	account       string
	client        *http.Client
	clock         clock.PassiveClock
	files         *FileStore
	key           []byte
	log           logr.Logger
	metadataFiles []string
	url           *url.URL
}

// NewAzureStore creates a new AzureStore. The account name is taken from the host of the share URL,
// e.g. https://account.file.core.windows.net/share/directory.
func NewAzureStore(files *FileStore, config AzureConfig, metadataFiles []string, client *http.Client,
	clock clock.PassiveClock, log logr.Logger) (*AzureStore, error) {
	shareURL, err := url.Parse(strings.TrimSuffix(config.URL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid azure file storage URL %s", config.URL)
	}
	account, _, found := strings.Cut(shareURL.Host, ".")
	if !found || account == "" {
		return nil, errors.Errorf("cannot determine the account name of azure file storage URL %s", config.URL)
	}
	if strings.Trim(shareURL.Path, "/") == "" {
		return nil, errors.Errorf("azure file storage URL %s does not name a share", config.URL)
	}
	key, err := base64.StdEncoding.DecodeString(config.AccessKey)
	if err != nil {
		return nil, errors.Wrap(err, "azure access key is not valid base64")
	}

	return &AzureStore{
		Backoff:       DefaultBackoff,
		account:       account,
		client:        client,
		clock:         clock,
		files:         files,
		key:           key,
		log:           log.WithName("azure-store"),
		metadataFiles: metadataFiles,
		url:           shareURL,
	}, nil
}

// Describe returns a human readable description of the store.
func (s *AzureStore) Describe() string {
	return "Uploading coverage to the Azure file storage at " + s.url.String() +
		" (fallback in case of network errors to: " + s.files.Describe() + ")"
}

// Store writes the report to the local fallback directory and uploads it afterwards.
func (s *AzureStore) Store(ctx context.Context, report *Report) error {
	localPath, err := s.files.Write(report)
	if err != nil {
		return err
	}

	archive, err := zipReport(report, s.metadataFiles)
	if err != nil {
		return &UploadStoreError{Message: "Failed to pack coverage archive", Err: err}
	}
	fileName := strings.TrimSuffix(path.Base(localPath), path.Ext(localPath)) + ".zip"

	if err := deliver(ctx, s.Backoff, func(ctx context.Context) error {
		return s.upload(ctx, fileName, archive)
	}); err != nil {
		s.log.Error(err, "Upload failed, the report is kept locally", "url", s.url.String(), "file", localPath)
		return err
	}
	s.log.Info("Uploaded coverage", "url", s.url.String(), "file", fileName)

	return nil
}

func (s *AzureStore) upload(ctx context.Context, fileName string, archive []byte) error {
	if err := s.ensureDirectories(ctx); err != nil {
		return err
	}

	filePath := s.url.Path + "/" + fileName
	size := strconv.Itoa(len(archive))

	createHeaders := http.Header{}
	createHeaders.Set("x-ms-content-length", size)
	createHeaders.Set("x-ms-type", "file")
	if err := s.send(ctx, http.MethodPut, filePath, nil, createHeaders, nil, "Failed to create file "+fileName); err != nil {
		return err
	}

	rangeHeaders := http.Header{}
	rangeHeaders.Set("x-ms-range", "bytes=0-"+strconv.Itoa(len(archive)-1))
	rangeHeaders.Set("x-ms-write", "update")

	return s.send(ctx, http.MethodPut, filePath, url.Values{"comp": {"range"}}, rangeHeaders, archive,
		"Failed to upload data to file "+fileName)
}

// ensureDirectories creates every directory below the share that does not exist yet.
func (s *AzureStore) ensureDirectories(ctx context.Context) error {
	segments := strings.Split(strings.Trim(s.url.Path, "/"), "/")
	for i := 2; i <= len(segments); i++ {
		directory := "/" + strings.Join(segments[:i], "/")
		err := s.send(ctx, http.MethodPut, directory, url.Values{"restype": {"directory"}}, http.Header{}, nil,
			"Failed to create directory "+directory)

		var uploadErr *UploadStoreError
		if errors.As(err, &uploadErr) && uploadErr.StatusCode == http.StatusConflict {
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *AzureStore) send(ctx context.Context, method, resource string, query url.Values, headers http.Header,
	body []byte, message string) error {
	target := *s.url
	target.Path = resource
	target.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	for name, values := range headers {
		request.Header[name] = values
	}
	request.ContentLength = int64(len(body))
	request.Header.Set("x-ms-date", s.clock.Now().UTC().Format(http.TimeFormat))
	request.Header.Set("x-ms-version", azureAPIVersion)
	request.Header.Set("Authorization", "SharedKey "+s.account+":"+s.sign(request, resource, query))

	response, err := s.client.Do(request)
	if err != nil {
		return &UploadStoreError{Message: message, Err: err}
	}
	defer response.Body.Close()

	return checkResponse(response, message)
}

// sign computes the shared key signature of the request.
func (s *AzureStore) sign(request *http.Request, resource string, query url.Values) string {
	contentLength := ""
	if request.ContentLength > 0 {
		contentLength = strconv.FormatInt(request.ContentLength, 10)
	}

	lines := []string{
		request.Method,
		request.Header.Get("Content-Encoding"),
		request.Header.Get("Content-Language"),
		contentLength,
		request.Header.Get("Content-MD5"),
		request.Header.Get("Content-Type"),
		request.Header.Get("Date"),
		request.Header.Get("If-Modified-Since"),
		request.Header.Get("If-Match"),
		request.Header.Get("If-None-Match"),
		request.Header.Get("If-Unmodified-Since"),
		request.Header.Get("Range"),
	}

	var msHeaders []string
	for name := range request.Header {
		if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-ms-") {
			msHeaders = append(msHeaders, lower+":"+strings.TrimSpace(request.Header.Get(name)))
		}
	}
	sort.Strings(msHeaders)
	lines = append(lines, msHeaders...)

	canonicalResource := "/" + s.account + resource
	var parameters []string
	for name, values := range query {
		parameters = append(parameters, strings.ToLower(name)+":"+strings.Join(values, ","))
	}
	sort.Strings(parameters)
	for _, parameter := range parameters {
		canonicalResource += "\n" + parameter
	}
	lines = append(lines, canonicalResource)

	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write([]byte(strings.Join(lines, "\n")))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
