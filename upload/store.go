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
	"fmt"
)

// Format is the format of a report handed to a Store.
type Format string

const (
	// FormatJaCoCo is the XML line coverage report of a full run.
	FormatJaCoCo Format = "JACOCO"

	// FormatTestwise is the JSON testwise coverage report.
	FormatTestwise Format = "TESTWISE_COVERAGE"
)

// Extension returns the file extension of reports in this format.
func (f Format) Extension() string {
	if f == FormatTestwise {
		return ".json"
	}

	return ".xml"
}

// FileName returns the name of the report inside of uploaded archives.
func (f Format) FileName() string {
	if f == FormatTestwise {
		return "testwise-coverage.json"
	}

	return "coverage.xml"
}

// Report is a converted report ready to be stored.
type Report struct {
	Format    Format
	Partition string
	Content   []byte
}

// Store persists reports. Implementations must be safe for sequential use by the report cycle,
// a failing Store never affects later cycles.
type Store interface {
	// Describe returns a human readable description of where reports end up.
	Describe() string

	// Store persists the report.
	Store(ctx context.Context, report *Report) error
}

// UploadStoreError is returned if a report could not be delivered to a remote store.
type UploadStoreError struct {
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *UploadStoreError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (%d): \n%s", e.Message, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *UploadStoreError) Unwrap() error {
	return e.Err
}

// retryable returns true for errors worth another attempt within the same cycle: transport errors
// and server side failures.
func (e *UploadStoreError) retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}
