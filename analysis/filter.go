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

package analysis

import (
	"path"
	"strings"

	"github.com/pkg/errors"
)

// ClassFilter decides which classes take part in the analysis. Patterns are matched against the
// dotted class name (com.example.Foo), support the wildcards * and ? and may be separated by ':'.
// Excludes overrule includes and an empty include list includes everything.
type ClassFilter struct {
	includes []string
	excludes []string
}

// NewClassFilter creates a new ClassFilter and validates the patterns.
func NewClassFilter(includes, excludes string) (*ClassFilter, error) {
	filter := &ClassFilter{
		includes: splitPatterns(includes),
		excludes: splitPatterns(excludes),
	}

	for _, pattern := range append(append([]string{}, filter.includes...), filter.excludes...) {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, errors.Wrapf(err, "invalid class pattern %q", pattern)
		}
	}

	return filter, nil
}

// Matches returns true if the class with the given internal name (com/example/Foo) is included.
func (f *ClassFilter) Matches(className string) bool {
	if f == nil {
		return true
	}

	name := strings.ReplaceAll(className, "/", ".")
	if matchesAny(f.excludes, name) {
		return false
	}

	return len(f.includes) == 0 || matchesAny(f.includes, name)
}

func matchesAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if matched, _ := path.Match(pattern, name); matched {
			return true
		}
	}

	return false
}

func splitPatterns(value string) []string {
	var patterns []string
	for _, pattern := range strings.Split(value, ":") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}

	return patterns
}
