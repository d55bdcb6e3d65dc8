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

package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/aggregator"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/cache"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/loader"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/metrics"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/report"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/upload"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Config describes one offline conversion.
type Config struct {
	// Inputs are the files and directories holding exec files, class descriptors, test lists and test executions.
	Inputs []string

	// ClassDirs are searched for class descriptors in addition to the inputs.
	ClassDirs []string

	// Output is the path the report is written to.
	Output string

	// Testwise selects a testwise coverage report instead of a JaCoCo XML report.
	Testwise bool

	Duplicates execdata.DuplicatePolicy
	Includes   string
	Excludes   string

	// Name is the name of the JaCoCo report.
	Name string
}

// Runner converts the artifacts written by earlier runs of the agent into reports.
type Runner struct {
	loader loader.ArtifactLoader
	log    logr.Logger
}

// NewRunner creates a new Runner.
func NewRunner(loader loader.ArtifactLoader, log logr.Logger) *Runner {
	return &Runner{
		loader: loader,
		log:    log.WithName("batch"),
	}
}

// Run performs the conversion described by the given config.
func (r *Runner) Run(ctx context.Context, config *Config) error {
	if config.Output == "" {
		return errors.New("no output file given")
	}
	if config.Testwise {
		return r.runTestwise(ctx, config)
	}

	return r.runJaCoCo(ctx, config)
}

func (r *Runner) runJaCoCo(ctx context.Context, config *Config) error {
	startTime := time.Now()

	artifacts, err := r.loader.GetArtifacts(ctx, config.Inputs)
	if err != nil {
		return err
	}
	if len(artifacts.ExecFiles) == 0 {
		return errors.New("no exec files found in the given inputs")
	}

	resolver, probeCache, err := r.loadClasses(config, artifacts)
	if err != nil {
		return err
	}

	dump, err := aggregator.NewAggregator(resolver, r.log).MergeFiles(artifacts.ExecFiles...)
	if err != nil {
		return &report.ConversionError{Err: err}
	}

	name := config.Name
	if name == "" {
		name = "coverage"
	}
	converted, err := report.NewConverter(probeCache, r.log).Convert(name, dump)
	if err != nil {
		return err
	}
	content, err := converted.XML()
	if err != nil {
		return err
	}
	metrics.RegisterConversion(string(upload.FormatJaCoCo), startTime, time.Now())

	return r.write(config.Output, content)
}

func (r *Runner) runTestwise(ctx context.Context, config *Config) error {
	startTime := time.Now()

	resources, err := r.loader.GetTestwiseResources(ctx, config.Inputs)
	if err != nil {
		return err
	}

	resolver, probeCache, err := r.loadClasses(config, resources.Artifacts)
	if err != nil {
		return err
	}

	correlator := testwise.NewCorrelator(aggregator.NewAggregator(resolver, r.log), r.log)
	if err := correlator.RecordSource(aggregator.FileSource(resources.Artifacts.ExecFiles...)); err != nil {
		return &report.ConversionError{Err: err}
	}

	built, err := testwise.NewReportBuilder(probeCache, r.log).Build(resources.Details, correlator.Coverage(),
		resources.Executions, len(resources.Details) == 0)
	if err != nil {
		return err
	}

	content := &bytes.Buffer{}
	if err := testwise.WriteReport(content, built); err != nil {
		return err
	}
	metrics.RegisterConversion(string(upload.FormatTestwise), startTime, time.Now())

	return r.write(config.Output, content.Bytes())
}

func (r *Runner) loadClasses(config *Config, artifacts *loader.Artifacts) (*execdata.Resolver, *cache.ProbesCache, error) {
	policy := config.Duplicates
	if policy == "" {
		policy = execdata.DuplicateWarn
	}
	resolver := execdata.NewResolver(policy, r.log)

	filter, err := analysis.NewClassFilter(config.Includes, config.Excludes)
	if err != nil {
		return nil, nil, err
	}

	paths := append(append([]string{}, config.ClassDirs...), artifacts.ClassFiles...)
	index, err := analysis.LoadIndex(paths, filter, resolver, r.log)
	if err != nil {
		return nil, nil, err
	}

	return resolver, cache.NewProbesCache(index), nil
}

func (r *Runner) write(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create the directory of %s", path)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report %s", path)
	}
	r.log.Info("Wrote report", "path", path, "bytes", len(content))

	return nil
}
