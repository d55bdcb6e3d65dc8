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
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/util/wait"
	testingclock "k8s.io/utils/clock/testing"
)

type recordedRequest struct {
	method  string
	path    string
	query   map[string][]string
	headers http.Header
	body    []byte
	user    string
	token   string
}

type recordingServer struct {
	*httptest.Server

	mutex    sync.Mutex
	requests []recordedRequest
	statuses []int
}

func newRecordingServer(statuses ...int) *recordingServer {
	server := &recordingServer{statuses: statuses}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, token, _ := r.BasicAuth()

		server.mutex.Lock()
		defer server.mutex.Unlock()
		server.requests = append(server.requests, recordedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			query:   r.URL.Query(),
			headers: r.Header.Clone(),
			body:    body,
			user:    user,
			token:   token,
		})

		status := http.StatusOK
		if len(server.statuses) > 0 {
			status = server.statuses[0]
			server.statuses = server.statuses[1:]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("status body"))
	}))

	return server
}

func (s *recordingServer) recorded() []recordedRequest {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]recordedRequest{}, s.requests...)
}

var fastBackoff = wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 3}

var _ = ginkgo.Describe("Stores", func() {
	var (
		ctx       context.Context
		directory string
		fakeClock *testingclock.FakeClock
		files     *FileStore
		report    *Report
	)

	localFiles := func() []string {
		entries, err := os.ReadDir(directory)
		Expect(err).NotTo(HaveOccurred())
		var names []string
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		return names
	}

	unzip := func(content []byte) map[string]string {
		archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
		Expect(err).NotTo(HaveOccurred())
		entries := map[string]string{}
		for _, file := range archive.File {
			reader, err := file.Open()
			Expect(err).NotTo(HaveOccurred())
			data, err := io.ReadAll(reader)
			Expect(err).NotTo(HaveOccurred())
			entries[file.Name] = string(data)
		}
		return entries
	}

	formFile := func(request recordedRequest, field string) (string, []byte) {
		_, params, err := mime.ParseMediaType(request.headers.Get("Content-Type"))
		Expect(err).NotTo(HaveOccurred())
		form, err := multipart.NewReader(bytes.NewReader(request.body), params["boundary"]).ReadForm(1 << 20)
		Expect(err).NotTo(HaveOccurred())
		Expect(form.File[field]).To(HaveLen(1))
		header := form.File[field][0]
		file, err := header.Open()
		Expect(err).NotTo(HaveOccurred())
		content, err := io.ReadAll(file)
		Expect(err).NotTo(HaveOccurred())
		return header.Filename, content
	}

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		directory = ginkgo.GinkgoT().TempDir()
		fakeClock = testingclock.NewFakeClock(time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.Local))
		files = NewFileStore(directory, "jacoco", fakeClock)
		report = &Report{Format: FormatJaCoCo, Content: []byte("<report/>")}
	})

	ginkgo.Context("FileStore", func() {
		ginkgo.It("writes reports to timestamped files", func() {
			Expect(files.Store(ctx, report)).To(Succeed())
			Expect(localFiles()).To(Equal([]string{"jacoco-2024-03-05-14-07-09.123.xml"}))

			fakeClock.Step(time.Millisecond)
			Expect(files.Store(ctx, &Report{Format: FormatTestwise, Content: []byte("{}")})).To(Succeed())
			Expect(localFiles()).To(ContainElement("jacoco-2024-03-05-14-07-09.124.json"))
		})
	})

	ginkgo.Context("HTTPStore", func() {
		ginkgo.It("uploads a zip with the report and metadata files", func() {
			metadata := filepath.Join(ginkgo.GinkgoT().TempDir(), "git.properties")
			Expect(os.WriteFile(metadata, []byte("git.commit.id=abc"), 0o644)).To(Succeed())

			server := newRecordingServer()
			defer server.Close()

			store := NewHTTPStore(files, server.URL+"/upload", []string{metadata}, server.Client(), logr.Discard())
			Expect(store.Store(ctx, report)).To(Succeed())

			requests := server.recorded()
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].path).To(Equal("/upload"))
			name, content := formFile(requests[0], "file")
			Expect(name).To(Equal("coverage.zip"))
			Expect(unzip(content)).To(Equal(map[string]string{
				"coverage.xml":   "<report/>",
				"git.properties": "git.commit.id=abc",
			}))
			Expect(localFiles()).To(HaveLen(1))
		})

		ginkgo.It("retries server errors within the cycle", func() {
			server := newRecordingServer(http.StatusBadGateway, http.StatusOK)
			defer server.Close()

			store := NewHTTPStore(files, server.URL, nil, server.Client(), logr.Discard())
			store.Backoff = fastBackoff
			Expect(store.Store(ctx, report)).To(Succeed())
			Expect(server.recorded()).To(HaveLen(2))
		})

		ginkgo.It("keeps the report locally if the upload is rejected", func() {
			server := newRecordingServer(http.StatusUnauthorized)
			defer server.Close()

			store := NewHTTPStore(files, server.URL, nil, server.Client(), logr.Discard())
			store.Backoff = fastBackoff
			err := store.Store(ctx, report)

			var uploadErr *UploadStoreError
			Expect(errors.As(err, &uploadErr)).To(BeTrue())
			Expect(uploadErr.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(uploadErr.Error()).To(ContainSubstring("status body"))
			Expect(server.recorded()).To(HaveLen(1))
			Expect(localFiles()).To(HaveLen(1))
		})

		ginkgo.It("gives up after the backoff is exhausted", func() {
			server := newRecordingServer(http.StatusInternalServerError, http.StatusInternalServerError,
				http.StatusInternalServerError, http.StatusInternalServerError)
			defer server.Close()

			store := NewHTTPStore(files, server.URL, nil, server.Client(), logr.Discard())
			store.Backoff = fastBackoff
			Expect(store.Store(ctx, report)).NotTo(Succeed())
			Expect(server.recorded()).To(HaveLen(3))
		})
	})

	ginkgo.Context("TeamscaleStore", func() {
		var server *recordingServer

		ginkgo.BeforeEach(func() {
			server = newRecordingServer()
		})

		ginkgo.AfterEach(func() {
			server.Close()
		})

		ginkgo.It("uploads the report to the external report API", func() {
			store := NewTeamscaleStore(files, TeamscaleServer{
				URL:         server.URL + "/",
				Project:     "proj",
				User:        "build",
				AccessToken: "secret",
				Partition:   "Unit Tests",
				Commit:      "master:1700000000000",
				Message:     "Agent upload",
			}, server.Client(), logr.Discard())
			Expect(store.Store(ctx, report)).To(Succeed())

			requests := server.recorded()
			Expect(requests).To(HaveLen(1))
			Expect(requests[0].path).To(Equal("/p/proj/external-report/"))
			Expect(requests[0].query["format"]).To(Equal([]string{"JACOCO"}))
			Expect(requests[0].query["partition"]).To(Equal([]string{"Unit Tests"}))
			Expect(requests[0].query["t"]).To(Equal([]string{"master:1700000000000"}))
			Expect(requests[0].user).To(Equal("build"))
			Expect(requests[0].token).To(Equal("secret"))

			name, content := formFile(requests[0], "report")
			Expect(name).To(Equal("coverage.xml"))
			Expect(string(content)).To(Equal("<report/>"))
		})

		ginkgo.It("prefers the session label and the revision", func() {
			store := NewTeamscaleStore(files, TeamscaleServer{
				URL:       server.URL,
				Project:   "proj",
				Partition: "Unit Tests",
				Revision:  "1234567890abcdef1234567890abcdef12345678",
			}, server.Client(), logr.Discard())
			report.Partition = "Manual"
			Expect(store.Store(ctx, report)).To(Succeed())

			requests := server.recorded()
			Expect(requests[0].query["partition"]).To(Equal([]string{"Manual"}))
			Expect(requests[0].query["revision"]).To(Equal([]string{"1234567890abcdef1234567890abcdef12345678"}))
			Expect(requests[0].query).NotTo(HaveKey("t"))
		})

		ginkgo.It("does not leak credentials in its description", func() {
			store := NewTeamscaleStore(files, TeamscaleServer{URL: server.URL, AccessToken: "secret"},
				server.Client(), logr.Discard())
			Expect(store.Describe()).NotTo(ContainSubstring("secret"))
		})
	})

	ginkgo.Context("AzureStore", func() {
		var server *recordingServer

		ginkgo.BeforeEach(func() {
			server = newRecordingServer(http.StatusCreated, http.StatusConflict, http.StatusCreated, http.StatusCreated)
		})

		ginkgo.AfterEach(func() {
			server.Close()
		})

		ginkgo.It("creates the directories and the file before writing its content", func() {
			store, err := NewAzureStore(files, AzureConfig{
				URL:       server.URL + "/share/coverage/app",
				AccessKey: base64.StdEncoding.EncodeToString([]byte("key")),
			}, nil, server.Client(), fakeClock, logr.Discard())
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Store(ctx, report)).To(Succeed())

			requests := server.recorded()
			Expect(requests).To(HaveLen(4))
			Expect(requests[0].path).To(Equal("/share/coverage"))
			Expect(requests[0].query["restype"]).To(Equal([]string{"directory"}))
			Expect(requests[1].path).To(Equal("/share/coverage/app"))

			Expect(requests[2].path).To(Equal("/share/coverage/app/jacoco-2024-03-05-14-07-09.123.zip"))
			Expect(requests[2].headers.Get("x-ms-type")).To(Equal("file"))
			Expect(requests[3].query["comp"]).To(Equal([]string{"range"}))
			Expect(requests[3].headers.Get("x-ms-write")).To(Equal("update"))
			Expect(requests[3].headers.Get("x-ms-range")).To(Equal("bytes=0-" + strconv.Itoa(len(requests[3].body)-1)))
			Expect(requests[2].headers.Get("x-ms-content-length")).To(Equal(strconv.Itoa(len(requests[3].body))))
			Expect(unzip(requests[3].body)).To(HaveKeyWithValue("coverage.xml", "<report/>"))

			for _, request := range requests {
				Expect(request.headers.Get("Authorization")).To(HavePrefix("SharedKey 127:"))
				Expect(request.headers.Get("x-ms-version")).To(Equal(azureAPIVersion))
			}
		})

		ginkgo.It("rejects URLs without share", func() {
			_, err := NewAzureStore(files, AzureConfig{URL: "https://account.file.core.windows.net/", AccessKey: ""},
				nil, http.DefaultClient, fakeClock, logr.Discard())
			Expect(err).To(HaveOccurred())
		})
	})
})
