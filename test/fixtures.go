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

package test

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
)

// WriteClassFile writes the descriptor of the given class into the given directory and returns the class as it
// is parsed back, so its fingerprint matches the one an index computes for the file.
func WriteClassFile(dir string, class *analysis.ClassFile) (*analysis.ClassFile, error) {
	content, err := class.Marshal()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, strings.ReplaceAll(class.Name, "/", "_")+analysis.ClassFileSuffix)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, err
	}

	return analysis.ParseClassFile(content, path)
}

// WriteDumps appends the given dumps to the exec file at the given path.
func WriteDumps(path string, dumps ...*execdata.Dump) error {
	for _, dump := range dumps {
		if err := execdata.AppendDump(path, dump); err != nil {
			return err
		}
	}

	return nil
}
