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

package loader

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/metadata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	"github.com/pkg/errors"
)

type ArtifactLoader interface {
	GetArtifacts(ctx context.Context, inputs []string) (*Artifacts, error)
	GetTestDetails(ctx context.Context, paths []string) ([]testwise.TestDetails, error)
	GetTestExecutions(ctx context.Context, paths []string) ([]testwise.TestExecution, error)
	GetTestwiseResources(ctx context.Context, inputs []string) (*TestwiseResources, error)
}

// Artifacts holds the paths of the input artifacts grouped by their format.
type Artifacts struct {
	ClassFiles     []string
	ExecFiles      []string
	TestExecutions []string
	TestLists      []string
}

type loader struct{}

func NewLoader() ArtifactLoader {
	return &loader{}
}

// GetArtifacts walks the given files and directories and returns every artifact found grouped by its format. Files
// given explicitly are always treated as artifacts, even if their name cannot be recognized, in which case they are
// considered raw dump files. Unknown files found inside directories are ignored.
func (l *loader) GetArtifacts(ctx context.Context, inputs []string) (*Artifacts, error) {
	artifacts := &Artifacts{}

	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, errors.Wrapf(err, "input %s cannot be read", input)
		}

		if !info.IsDir() {
			format := metadata.DetectFormat(input)
			if format == metadata.UnknownFormat {
				format = metadata.ExecFormat
			}
			artifacts.add(format, input)
			continue
		}

		err = filepath.WalkDir(input, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !entry.IsDir() {
				artifacts.add(metadata.DetectFormat(path), path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to walk input directory %s", input)
		}
	}

	artifacts.sort()

	return artifacts, nil
}

// GetTestDetails reads the given test list files and returns all the tests they contain.
func (l *loader) GetTestDetails(ctx context.Context, paths []string) ([]testwise.TestDetails, error) {
	var details []testwise.TestDetails

	for _, path := range paths {
		file, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		fileDetails, err := testwise.ReadTestDetails(file)
		_ = file.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read test list %s", path)
		}
		details = append(details, fileDetails...)
	}

	return details, nil
}

// GetTestExecutions reads the given test execution files and returns all the executions they contain.
func (l *loader) GetTestExecutions(ctx context.Context, paths []string) ([]testwise.TestExecution, error) {
	var executions []testwise.TestExecution

	for _, path := range paths {
		file, err := os.Open(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		fileExecutions, err := testwise.ReadTestExecutions(file)
		_ = file.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read test executions %s", path)
		}
		executions = append(executions, fileExecutions...)
	}

	return executions, nil
}

// Composite functions

// TestwiseResources contains all the inputs needed to build a testwise coverage report.
type TestwiseResources struct {
	Artifacts  *Artifacts
	Details    []testwise.TestDetails
	Executions []testwise.TestExecution
}

// GetTestwiseResources returns all the inputs needed to build a testwise coverage report out of the given files and
// directories. If any of them cannot be read, an error will be returned.
func (l *loader) GetTestwiseResources(ctx context.Context, inputs []string) (*TestwiseResources, error) {
	var err error
	resources := &TestwiseResources{}

	resources.Artifacts, err = l.GetArtifacts(ctx, inputs)
	if err != nil {
		return resources, err
	}

	resources.Details, err = l.GetTestDetails(ctx, resources.Artifacts.TestLists)
	if err != nil {
		return resources, err
	}

	resources.Executions, err = l.GetTestExecutions(ctx, resources.Artifacts.TestExecutions)
	if err != nil {
		return resources, err
	}

	return resources, nil
}

func (a *Artifacts) add(format metadata.ArtifactFormat, path string) {
	switch format {
	case metadata.ClassFileFormat:
		a.ClassFiles = append(a.ClassFiles, path)
	case metadata.ExecFormat:
		a.ExecFiles = append(a.ExecFiles, path)
	case metadata.TestExecutionFormat:
		a.TestExecutions = append(a.TestExecutions, path)
	case metadata.TestListFormat:
		a.TestLists = append(a.TestLists, path)
	}
}

func (a *Artifacts) sort() {
	sort.Strings(a.ClassFiles)
	sort.Strings(a.ExecFiles)
	sort.Strings(a.TestExecutions)
	sort.Strings(a.TestLists)
}
