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
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/aggregator"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/cache"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/controllers/dump"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/controllers/results"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/metrics"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/report"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/upload"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Triggers of a dump cycle.
const (
	TriggerHTTP      = "http"
	TriggerInterval  = "interval"
	TriggerPartition = "partition"
	TriggerShutdown  = "shutdown"
)

// ClassProvider is implemented by extractors that discover the classes of the application at runtime.
type ClassProvider interface {
	Classes() []*analysis.ClassFile
}

// Agent wires the dump controller to the report pipeline and the triggers of a dump: the timer, the HTTP control
// endpoints and the shutdown of the process.
type Agent struct {
	aggregator *aggregator.Aggregator
	builder    *testwise.ReportBuilder
	classes    ClassProvider
	clock      clock.WithTicker
	controller *dump.Controller
	converter  *report.Converter
	correlator *testwise.Correlator
	execFile   string
	index      *analysis.Index
	log        logr.Logger
	options    *Options
	store      upload.Store
	tests      *testRun

	// mutex serializes the session boundaries: extraction, relabelling, test boundaries and the recording of
	// their dumps. It is never held while a report is converted or stored.
	mutex   sync.Mutex
	stopped bool

	// reportSlot serializes the conversion and storage of reports.
	reportSlot chan struct{}

	// ctx bounds the cycles the agent runs in the background. It is cancelled when the agent stops.
	ctx    context.Context
	cancel context.CancelFunc

	listener net.Listener
	server   *http.Server
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAgent creates a new Agent reading the probes from the given extractor and handing reports to the given store.
// The options are expected to be valid.
func NewAgent(options *Options, extractor dump.Extractor, store upload.Store, clock clock.WithTicker, log logr.Logger) (*Agent, error) {
	log = log.WithName("agent")

	policy, err := options.DuplicatePolicy()
	if err != nil {
		return nil, err
	}
	resolver := execdata.NewResolver(policy, log)

	filter, err := analysis.NewClassFilter(options.Includes, options.Excludes)
	if err != nil {
		return nil, err
	}
	index, err := analysis.LoadIndex(options.ClassDirs, filter, resolver, log)
	if err != nil {
		return nil, err
	}
	probeCache := cache.NewProbesCache(index)
	merger := aggregator.NewAggregator(resolver, log)

	ctx, cancel := context.WithCancel(context.Background())
	agent := &Agent{
		aggregator: merger,
		builder:    testwise.NewReportBuilder(probeCache, log),
		cancel:     cancel,
		clock:      clock,
		controller: dump.NewController(extractor, options.TeamscalePartition, clock, log),
		converter:  report.NewConverter(probeCache, log),
		correlator: testwise.NewCorrelator(merger, log),
		ctx:        ctx,
		index:      index,
		log:        log,
		options:    options,
		reportSlot: make(chan struct{}, 1),
		store:      store,
		stopCh:     make(chan struct{}),
		tests:      newTestRun(),
	}
	if provider, ok := extractor.(ClassProvider); ok {
		agent.classes = provider
	}
	if options.Mode == TestwiseMode {
		agent.execFile = filepath.Join(options.OutputDir,
			"coverage-"+clock.Now().Format("2006-01-02-15-04-05.000")+".exec")
	}

	return agent, nil
}

// Start starts the HTTP control server, if a port is configured, and the dump timer, if an interval is configured
// and the agent runs in normal mode. The cycles run in the background end when ctx is done or the agent stops.
func (a *Agent) Start(ctx context.Context) error {
	a.log.Info("Starting agent", "mode", a.options.Mode, "store", a.store.Describe())

	a.cancel()
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.options.HTTPServerPort > 0 {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.options.HTTPServerPort))
		if err != nil {
			return errors.Wrapf(err, "failed to listen on port %d", a.options.HTTPServerPort)
		}
		a.listener = listener
		a.server = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error(err, "HTTP server stopped unexpectedly")
			}
		}()
		a.log.Info("Listening for control requests", "address", listener.Addr().String())
	}

	if a.options.Interval > 0 && a.options.Mode == NormalMode {
		ticker := a.clock.NewTicker(time.Duration(a.options.Interval) * time.Minute)
		cycleCtx := a.ctx

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C():
					_ = a.DumpReport(cycleCtx, TriggerInterval)
				case <-a.stopCh:
					return
				case <-cycleCtx.Done():
					return
				}
			}
		}()
	}

	return nil
}

// Stop stops the triggers of the agent, waits for the cycles still running and, if configured, runs a last dump
// cycle. Cycles still running when ctx is done are cancelled. It is safe to call Stop several times, only the
// first call has an effect.
func (a *Agent) Stop(ctx context.Context) error {
	var err error

	a.stopOnce.Do(func() {
		a.mutex.Lock()
		a.stopped = true
		a.mutex.Unlock()

		close(a.stopCh)
		if a.server != nil {
			if shutdownErr := a.server.Shutdown(ctx); shutdownErr != nil {
				a.log.Error(shutdownErr, "Failed to shut down the HTTP server")
			}
		}
		a.waitForBackground(ctx)

		if a.options.DumpOnExit {
			err = a.DumpReport(ctx, TriggerShutdown)
		}
		a.cancel()
		a.log.Info("Agent stopped")
	})

	return err
}

// waitForBackground waits for the server, the timer and the reports running in the background. Once ctx is done
// the background cycles are cancelled.
func (a *Agent) waitForBackground(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.log.Info("Cancelling the reports still in progress")
		a.cancel()
		<-done
	}
}

// Addr returns the address the HTTP control server listens on or nil if it was not started.
func (a *Agent) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}

	return a.listener.Addr()
}

// DumpReport runs a dump cycle: the probes are extracted and reset, converted into a report and handed to the
// store. Failures are logged and returned, they never affect later cycles. Cycles run one at a time; a cycle
// waiting for its turn gives up once ctx is done, leaving the probes for the next one.
func (a *Agent) DumpReport(ctx context.Context, trigger string) error {
	return a.runCycle(ctx, trigger, nil)
}

// Reset discards the probes captured so far.
func (a *Agent) Reset() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.controller.Reset()
}

// Partition returns the session label of the current session.
func (a *Agent) Partition() string {
	return a.controller.SessionLabel()
}

// SetPartition changes the session label. The probes captured under the previous label are kept for the next
// testwise report in testwise mode. In normal mode they are reported in the background, unless the agent is
// stopping, in which case they are reported before SetPartition returns.
func (a *Agent) SetPartition(ctx context.Context, partition string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("changing the partition panicked: %v", r)
			a.log.Error(err, "Recovered from panic", "partition", partition)
		}
	}()

	a.mutex.Lock()
	previous, err := a.controller.SetSessionLabel(partition)
	if err != nil || previous == nil {
		a.mutex.Unlock()
		return err
	}
	a.log.Info("Changed partition", "previous", previous.Info.Partition, "partition", partition)

	if a.options.Mode == TestwiseMode {
		err = a.record(previous)
		a.mutex.Unlock()
		return err
	}

	if !a.stopped {
		cycleCtx := a.ctx
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			_ = a.runCycle(cycleCtx, TriggerPartition, previous)
		}()
		a.mutex.Unlock()
		return nil
	}
	a.mutex.Unlock()

	return a.runCycle(ctx, TriggerPartition, previous)
}

// runCycle converts and stores a report. If no dump is given, the probes are extracted first.
func (a *Agent) runCycle(ctx context.Context, trigger string, extracted *execdata.Dump) (err error) {
	startTime := a.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("dump cycle panicked: %v", r)
			a.log.Error(err, "Recovered from panic", "trigger", trigger)
		}
		metrics.RegisterDump(trigger, startTime, a.clock.Now(), err == nil)
	}()

	select {
	case a.reportSlot <- struct{}{}:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "gave up waiting for the running dump cycle")
		a.log.Error(err, "Dump cycle skipped", "trigger", trigger)
		return err
	}
	defer func() { <-a.reportSlot }()

	adapter := newAdapter(ctx, a, trigger, extracted)
	if a.options.Mode == TestwiseMode && extracted == nil {
		err = results.ProcessOperations([]results.Operation{
			adapter.EnsureTestwiseCoverageIsFlushed,
			adapter.EnsureTestwiseReportIsBuilt,
			adapter.EnsureReportIsStored,
		})
	} else {
		err = results.ProcessOperations([]results.Operation{
			adapter.EnsureDumpIsExtracted,
			adapter.EnsureClassesAreIndexed,
			adapter.EnsureEmptyDumpIsSkipped,
			adapter.EnsureReportIsConverted,
			adapter.EnsureReportIsStored,
		})
	}
	if err != nil {
		a.log.Error(err, "Dump cycle failed", "trigger", trigger)
	}

	return err
}

// flush extracts the probes captured since the last session boundary and records them.
func (a *Agent) flush() (*execdata.Dump, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	extracted, err := a.controller.DumpAndReset()
	if err != nil {
		return nil, err
	}

	return extracted, a.record(extracted)
}

// drain consumes the coverage and the tests recorded since the last testwise report.
func (a *Agent) drain() (*testwise.TestwiseCoverage, []testwise.TestDetails, []testwise.TestExecution) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	details, executions := a.tests.drain()

	return a.correlator.Drain(), details, executions
}

// record attributes the dump to the test it was captured in and appends it to the exec file of the run. The caller
// holds the mutex.
func (a *Agent) record(dump *execdata.Dump) error {
	if err := a.indexClasses(); err != nil {
		return err
	}
	if err := a.correlator.Record(dump); err != nil {
		return err
	}
	if a.execFile != "" && (dump.Info.ID != "" || dump.Store.HasHits()) {
		if err := execdata.AppendDump(a.execFile, dump); err != nil {
			a.log.Error(err, "Failed to append dump to exec file", "file", a.execFile)
		}
	}

	return nil
}

// indexClasses adds the classes discovered by the extractor to the index.
func (a *Agent) indexClasses() error {
	if a.classes == nil {
		return nil
	}
	for _, class := range a.classes.Classes() {
		if err := a.index.Add(class); err != nil {
			return err
		}
	}

	return nil
}
