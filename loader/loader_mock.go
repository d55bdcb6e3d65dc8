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

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
)

type (
	contextKey int
	MockData   struct {
		ContextKey contextKey
		Err        error
		Resource   any
	}
	mockLoader struct {
		loader ArtifactLoader
	}
)

const (
	ArtifactsContextKey         contextKey = iota
	TestDetailsContextKey       contextKey = iota
	TestExecutionsContextKey    contextKey = iota
	TestwiseResourcesContextKey contextKey = iota
)

// GetMockedContext returns a context holding the given mocked data.
func GetMockedContext(ctx context.Context, data []MockData) context.Context {
	for _, mockData := range data {
		ctx = context.WithValue(ctx, mockData.ContextKey, mockData)
	}

	return ctx
}

func NewMockLoader() ArtifactLoader {
	return &mockLoader{
		loader: NewLoader(),
	}
}

// getMockedResourceAndErrorFromContext returns the mocked data found in the context passed as an argument. The data is
// to be found in the contextDataKey key. If not there, a panic will be raised.
func getMockedResourceAndErrorFromContext[T any](ctx context.Context, contextKey contextKey, _ T) (T, error) {
	var resource T
	var err error

	value := ctx.Value(contextKey)
	if value == nil {
		panic("Mocked data not found in the context")
	}

	data, _ := value.(MockData)

	if data.Resource != nil {
		resource = data.Resource.(T)
	}

	if data.Err != nil {
		err = data.Err
	}

	return resource, err
}

// GetArtifacts returns the resource and error passed as values of the context.
func (l *mockLoader) GetArtifacts(ctx context.Context, inputs []string) (*Artifacts, error) {
	if ctx.Value(ArtifactsContextKey) == nil {
		return l.loader.GetArtifacts(ctx, inputs)
	}
	return getMockedResourceAndErrorFromContext(ctx, ArtifactsContextKey, &Artifacts{})
}

// GetTestDetails returns the resource and error passed as values of the context.
func (l *mockLoader) GetTestDetails(ctx context.Context, paths []string) ([]testwise.TestDetails, error) {
	if ctx.Value(TestDetailsContextKey) == nil {
		return l.loader.GetTestDetails(ctx, paths)
	}
	return getMockedResourceAndErrorFromContext(ctx, TestDetailsContextKey, []testwise.TestDetails{})
}

// GetTestExecutions returns the resource and error passed as values of the context.
func (l *mockLoader) GetTestExecutions(ctx context.Context, paths []string) ([]testwise.TestExecution, error) {
	if ctx.Value(TestExecutionsContextKey) == nil {
		return l.loader.GetTestExecutions(ctx, paths)
	}
	return getMockedResourceAndErrorFromContext(ctx, TestExecutionsContextKey, []testwise.TestExecution{})
}

// Composite functions

// GetTestwiseResources returns the resource and error passed as values of the context.
func (l *mockLoader) GetTestwiseResources(ctx context.Context, inputs []string) (*TestwiseResources, error) {
	if ctx.Value(TestwiseResourcesContextKey) == nil {
		return l.loader.GetTestwiseResources(ctx, inputs)
	}
	return getMockedResourceAndErrorFromContext(ctx, TestwiseResourcesContextKey, &TestwiseResources{})
}
