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

package metadata

import (
	"path/filepath"
	"strings"
)

// ArtifactFormat represents the format of an input artifact of the converter
type ArtifactFormat string

// String returns the string representation of the ArtifactFormat
func (f ArtifactFormat) String() string {
	return string(f)
}

// Artifact format enum values
const (
	// ClassFileFormat is the format of class descriptors
	ClassFileFormat ArtifactFormat = "class-file"

	// ExecFormat is the format of raw dump files written by the agent
	ExecFormat ArtifactFormat = "exec"

	// TestExecutionFormat is the format of the JSON files listing the results of test executions
	TestExecutionFormat ArtifactFormat = "test-execution"

	// TestListFormat is the format of the JSON files listing all available tests
	TestListFormat ArtifactFormat = "test-list"

	// UnknownFormat is used for all files the converter ignores
	UnknownFormat ArtifactFormat = "unknown"
)

// Common constants
const (
	// AgentOptionsEnv is the environment variable holding the options of an agent started by an instrumented binary
	AgentOptionsEnv = "TEAMSCALE_AGENT_OPTIONS"

	// ServiceName is the name the agent uses to identify itself
	ServiceName = "teamscale-coverage-agent"
)

// Prefixes and suffixes of the artifact file names
const (
	// ClassFileSuffix is the suffix of class descriptors
	ClassFileSuffix = ".class.json"

	// ExecSuffix is the suffix of raw dump files
	ExecSuffix = ".exec"

	// TestExecutionPrefix is the prefix of test execution files
	TestExecutionPrefix = "test-execution"

	// TestListPrefix is the prefix of test list files
	TestListPrefix = "test-list"
)

// DetectFormat returns the format of the artifact found at the given path judging by its file name.
func DetectFormat(path string) ArtifactFormat {
	name := strings.ToLower(filepath.Base(path))

	switch {
	case strings.HasSuffix(name, ClassFileSuffix):
		return ClassFileFormat
	case strings.HasSuffix(name, ExecSuffix):
		return ExecFormat
	case strings.HasPrefix(name, TestExecutionPrefix) && strings.HasSuffix(name, ".json"):
		return TestExecutionFormat
	case strings.HasPrefix(name, TestListPrefix) && strings.HasSuffix(name, ".json"):
		return TestListFormat
	}

	return UnknownFormat
}
