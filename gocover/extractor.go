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

package gocover

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/coverage"
	"strings"
	"sync"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/tools/cover"
)

const profileFileName = "coverage.profile"

// ConvertFunc turns the coverage data directories written by the Go runtime into one text profile.
type ConvertFunc func(ctx context.Context, inputDirs []string, profile string) error

// Extractor reads the counters of a binary built with -cover. Resetting requires the binary to be
// built with -covermode=atomic.
type Extractor struct {
	convert ConvertFunc
	dir     string
	log     logr.Logger

	mutex   sync.Mutex
	classes []*analysis.ClassFile
	pending []string
}

// NewExtractor creates a new Extractor writing its intermediate files below dir.
func NewExtractor(dir string, log logr.Logger) *Extractor {
	return &Extractor{
		convert: covdataTextfmt,
		dir:     dir,
		log:     log.WithName("gocover"),
	}
}

// Extract flushes the coverage counters of the running binary and converts them into execution data.
// Snapshots of cleared counters that could not be converted are kept and converted together with the
// next snapshot.
func (e *Extractor) Extract(reset bool) (*execdata.Store, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	dumpDir, err := e.snapshot(reset)
	if err != nil {
		return nil, err
	}

	return e.collect(dumpDir, reset)
}

// Classes returns the class descriptors derived from the last extraction.
func (e *Extractor) Classes() []*analysis.ClassFile {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return e.classes
}

// snapshot writes the meta-data and the counters of the running binary into a new directory.
func (e *Extractor) snapshot(reset bool) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", err
	}
	dumpDir, err := os.MkdirTemp(e.dir, "dump-")
	if err != nil {
		return "", err
	}

	if err := coverage.WriteMetaDir(dumpDir); err != nil {
		_ = os.RemoveAll(dumpDir)
		return "", errors.Wrap(err, "failed to write coverage meta-data")
	}
	if err := coverage.WriteCountersDir(dumpDir); err != nil {
		_ = os.RemoveAll(dumpDir)
		return "", errors.Wrap(err, "failed to write coverage counters")
	}
	if reset {
		if err := coverage.ClearCounters(); err != nil {
			_ = os.RemoveAll(dumpDir)
			return "", errors.Wrap(err, "failed to clear coverage counters")
		}
	}

	return dumpDir, nil
}

// collect converts the given snapshot together with the pending ones. The caller holds the mutex.
func (e *Extractor) collect(dumpDir string, reset bool) (*execdata.Store, error) {
	dirs := append(append([]string{}, e.pending...), dumpDir)

	store, err := e.convertSnapshots(dirs)
	if err != nil {
		if reset {
			// The counters were cleared, the snapshot is the only copy left.
			e.pending = dirs
			e.log.Info("Keeping coverage snapshots for the next extraction", "snapshots", len(dirs))
		} else {
			_ = os.RemoveAll(dumpDir)
		}
		return nil, err
	}

	if reset {
		for _, dir := range dirs {
			_ = os.RemoveAll(dir)
		}
		e.pending = nil
	} else {
		_ = os.RemoveAll(dumpDir)
	}

	return store, nil
}

func (e *Extractor) convertSnapshots(dirs []string) (*execdata.Store, error) {
	profileDir, err := os.MkdirTemp(e.dir, "profile-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(profileDir)

	profile := filepath.Join(profileDir, profileFileName)
	if err := e.convert(context.Background(), dirs, profile); err != nil {
		return nil, err
	}
	profiles, err := cover.ParseProfiles(profile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse coverage profile")
	}

	store, classes := FromProfiles(profiles)
	e.classes = classes
	e.log.V(1).Info("Extracted coverage counters", "files", len(classes), "snapshots", len(dirs))

	return store, nil
}

func covdataTextfmt(ctx context.Context, inputDirs []string, profile string) error {
	// #nosec G204
	output, err := exec.CommandContext(ctx, "go", "tool", "covdata", "textfmt",
		"-i="+strings.Join(inputDirs, ","), "-o="+profile).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "go tool covdata textfmt failed: %s", output)
	}

	return nil
}
