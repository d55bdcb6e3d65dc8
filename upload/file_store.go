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
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

const timestampLayout = "2006-01-02-15-04-05.000"

// FileStore writes reports to timestamped files in a local directory. It is the fallback every
// other store writes to first.
type FileStore struct {
	clock  clock.PassiveClock
	dir    string
	prefix string
}

// NewFileStore creates a new FileStore writing files named <prefix>-<timestamp>.<ext> to dir.
func NewFileStore(dir, prefix string, clock clock.PassiveClock) *FileStore {
	return &FileStore{
		clock:  clock,
		dir:    dir,
		prefix: prefix,
	}
}

// Describe returns a human readable description of the store.
func (s *FileStore) Describe() string {
	return "Saving to local filesystem path " + s.dir
}

// Dir returns the directory reports are written to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Store writes the report to a new file.
func (s *FileStore) Store(_ context.Context, report *Report) error {
	_, err := s.Write(report)

	return err
}

// Write writes the report to a new file and returns its path.
func (s *FileStore) Write(report *Report) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create output directory %s", s.dir)
	}

	path := filepath.Join(s.dir, s.prefix+"-"+s.clock.Now().Format(timestampLayout)+report.Format.Extension())
	if err := os.WriteFile(path, report.Content, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write report to %s", path)
	}

	return path, nil
}
