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

package testwise

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExecutionResult is the outcome of a single test execution.
type ExecutionResult string

const (
	// Passed tests ran successfully.
	Passed ExecutionResult = "PASSED"

	// Ignored tests were ignored by the test framework.
	Ignored ExecutionResult = "IGNORED"

	// Skipped tests were skipped, e.g. because an assumption failed.
	Skipped ExecutionResult = "SKIPPED"

	// Failure marks tests with failed assertions.
	Failure ExecutionResult = "FAILURE"

	// Error marks tests that could not run to completion.
	Error ExecutionResult = "ERROR"
)

// IsValid returns true for the known execution results.
func (r ExecutionResult) IsValid() bool {
	switch r {
	case Passed, Ignored, Skipped, Failure, Error:
		return true
	default:
		return false
	}
}

// TestDetails describes a test known to the test framework, whether or not it was executed.
type TestDetails struct {
	UniformPath string  `json:"uniformPath"`
	SourcePath  *string `json:"sourcePath"`
	Content     *string `json:"content"`
}

// TestExecution is the result of one execution of a test.
type TestExecution struct {
	UniformPath    string          `json:"uniformPath"`
	DurationMillis int64           `json:"durationMillis"`
	Result         ExecutionResult `json:"result"`
	Message        string          `json:"message,omitempty"`
}

// ReadTestDetails reads a JSON list of test details.
func ReadTestDetails(reader io.Reader) ([]TestDetails, error) {
	var details []TestDetails
	if err := json.NewDecoder(reader).Decode(&details); err != nil {
		return nil, errors.Wrap(err, "failed to read test details")
	}

	return details, nil
}

// ReadTestExecutions reads a JSON list of test executions.
func ReadTestExecutions(reader io.Reader) ([]TestExecution, error) {
	var executions []TestExecution
	if err := json.NewDecoder(reader).Decode(&executions); err != nil {
		return nil, errors.Wrap(err, "failed to read test executions")
	}
	for _, execution := range executions {
		if !execution.Result.IsValid() {
			return nil, errors.Errorf("invalid result %q for test %s", execution.Result, execution.UniformPath)
		}
	}

	return executions, nil
}
