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

package agent

import (
	"bytes"
	"context"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/controllers/results"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/metrics"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/report"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/upload"
	"github.com/go-logr/logr"
)

// reportName is the name of the JaCoCo reports written by the agent.
const reportName = "coverage"

// adapter holds the objects needed to run one dump cycle.
type adapter struct {
	agent   *Agent
	ctx     context.Context
	dump    *execdata.Dump
	logger  logr.Logger
	report  *upload.Report
	trigger string
}

// newAdapter creates and returns an adapter instance. If a dump is given, the cycle reports it instead of
// extracting a new one.
func newAdapter(ctx context.Context, agent *Agent, trigger string, dump *execdata.Dump) *adapter {
	return &adapter{
		agent:   agent,
		ctx:     ctx,
		dump:    dump,
		logger:  agent.log.WithValues("trigger", trigger),
		trigger: trigger,
	}
}

// EnsureDumpIsExtracted is an operation that will extract and reset the probes captured so far, unless the cycle
// was started for a dump that was already extracted.
func (a *adapter) EnsureDumpIsExtracted() (results.OperationResult, error) {
	if a.dump != nil {
		return results.ContinueProcessing()
	}

	a.agent.mutex.Lock()
	dump, err := a.agent.controller.DumpAndReset()
	a.agent.mutex.Unlock()
	if err != nil {
		return results.StopWithError(err)
	}
	a.dump = dump

	return results.ContinueProcessing()
}

// EnsureClassesAreIndexed is an operation that will add the classes discovered at runtime to the class index.
func (a *adapter) EnsureClassesAreIndexed() (results.OperationResult, error) {
	return results.StopOnErrorOrContinue(a.agent.indexClasses())
}

// EnsureEmptyDumpIsSkipped is an operation that will stop the cycle if no probe fired since the last dump, so no
// empty reports are stored.
func (a *adapter) EnsureEmptyDumpIsSkipped() (results.OperationResult, error) {
	if !a.dump.Store.HasHits() {
		a.logger.Info("No coverage was collected since the last dump, skipping the report")
		return results.StopProcessing()
	}

	return results.ContinueProcessing()
}

// EnsureReportIsConverted is an operation that will merge the dump, resolving duplicate classes, and convert it
// into a JaCoCo XML report.
func (a *adapter) EnsureReportIsConverted() (results.OperationResult, error) {
	startTime := a.agent.clock.Now()

	merged, err := a.agent.aggregator.Merge(a.dump.Store)
	if err != nil {
		return results.StopWithError(&report.ConversionError{Err: err})
	}

	converted, err := a.agent.converter.Convert(reportName, &execdata.Dump{Info: a.dump.Info, Store: merged})
	if err != nil {
		return results.StopWithError(err)
	}
	content, err := converted.XML()
	if err != nil {
		return results.StopWithError(err)
	}
	metrics.RegisterConversion(string(upload.FormatJaCoCo), startTime, a.agent.clock.Now())

	a.report = &upload.Report{
		Format:    upload.FormatJaCoCo,
		Partition: a.dump.Info.Partition,
		Content:   content,
	}

	return results.ContinueProcessing()
}

// EnsureTestwiseCoverageIsFlushed is an operation that will extract the probes captured since the last test
// boundary and attribute them to the running test, if any.
func (a *adapter) EnsureTestwiseCoverageIsFlushed() (results.OperationResult, error) {
	dump, err := a.agent.flush()
	if dump != nil {
		a.dump = dump
	}

	return results.StopOnErrorOrContinue(err)
}

// EnsureTestwiseReportIsBuilt is an operation that will join the coverage recorded per test with the test details
// and execution results into a testwise coverage report. Everything recorded so far is consumed by the report.
func (a *adapter) EnsureTestwiseReportIsBuilt() (results.OperationResult, error) {
	startTime := a.agent.clock.Now()

	coverage, details, executions := a.agent.drain()
	if len(coverage.Tests()) == 0 && len(details) == 0 && len(executions) == 0 {
		a.logger.Info("No tests were recorded since the last dump, skipping the report")
		return results.StopProcessing()
	}

	// Without a test list the report cannot claim to cover every test.
	built, err := a.agent.builder.Build(details, coverage, executions, len(details) == 0)
	if err != nil {
		return results.StopWithError(err)
	}

	content := &bytes.Buffer{}
	if err := testwise.WriteReport(content, built); err != nil {
		return results.StopWithError(err)
	}
	metrics.RegisterConversion(string(upload.FormatTestwise), startTime, a.agent.clock.Now())

	a.report = &upload.Report{
		Format:    upload.FormatTestwise,
		Partition: a.dump.Info.Partition,
		Content:   content.Bytes(),
	}

	return results.ContinueProcessing()
}

// EnsureReportIsStored is an operation that will hand the report to the configured store.
func (a *adapter) EnsureReportIsStored() (results.OperationResult, error) {
	err := a.agent.store.Store(a.ctx, a.report)
	metrics.RegisterUpload(storeName(a.agent.store), err == nil)
	if err != nil {
		return results.StopWithError(err)
	}
	a.logger.V(1).Info("Stored report", "format", a.report.Format, "partition", a.report.Partition)

	return results.ContinueProcessing()
}

func storeName(store upload.Store) string {
	switch store.(type) {
	case *upload.FileStore:
		return "file"
	case *upload.HTTPStore:
		return "http"
	case *upload.AzureStore:
		return "azure"
	case *upload.TeamscaleStore:
		return "teamscale"
	default:
		return "custom"
	}
}
