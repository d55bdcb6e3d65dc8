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
	"sync"
	"time"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/metrics"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	"github.com/pkg/errors"
)

// TestResult is the outcome of a test reported when it ends.
type TestResult struct {
	Result  testwise.ExecutionResult `json:"result"`
	Message string                   `json:"message,omitempty"`
}

// testRun keeps track of the tests reported through the test boundaries since the last testwise report.
type testRun struct {
	mutex      sync.Mutex
	current    string
	start      time.Time
	details    map[string]testwise.TestDetails
	order      []string
	executions []testwise.TestExecution
}

func newTestRun() *testRun {
	return &testRun{details: map[string]testwise.TestDetails{}}
}

func (r *testRun) begin(uniformPath string, start time.Time, details *testwise.TestDetails) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous := r.current
	r.current = uniformPath
	r.start = start

	if details != nil {
		details.UniformPath = uniformPath
		if _, found := r.details[uniformPath]; !found {
			r.order = append(r.order, uniformPath)
		}
		r.details[uniformPath] = *details
	}

	return previous
}

func (r *testRun) end(uniformPath string, end time.Time, result *TestResult) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous := r.current
	if result != nil {
		r.executions = append(r.executions, testwise.TestExecution{
			UniformPath:    uniformPath,
			DurationMillis: end.Sub(r.start).Milliseconds(),
			Result:         result.Result,
			Message:        result.Message,
		})
	}
	r.current = ""

	return previous
}

func (r *testRun) drain() ([]testwise.TestDetails, []testwise.TestExecution) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	details := make([]testwise.TestDetails, 0, len(r.order))
	for _, uniformPath := range r.order {
		details = append(details, r.details[uniformPath])
	}
	executions := r.executions

	r.details = map[string]testwise.TestDetails{}
	r.order = nil
	r.executions = nil

	return details, executions
}

// StartTest closes the current session and opens one named after the given test. The probes captured before are
// attributed to the previous session. Optional details about the test are kept for the next report.
func (a *Agent) StartTest(uniformPath string, details *testwise.TestDetails) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("starting test %s panicked: %v", uniformPath, r)
			a.log.Error(err, "Recovered from panic")
		}
	}()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	dump, err := a.controller.StartSession(uniformPath)
	if err != nil {
		return err
	}
	if previous := a.tests.begin(uniformPath, a.clock.Now(), details); previous != "" {
		a.log.Info("Test started while another test was still running, tests are expected to run sequentially",
			"test", uniformPath, "running", previous)
	}
	a.log.V(1).Info("Started test", "test", uniformPath)

	return a.record(dump)
}

// EndTest closes the session of the given test. If a result is given, an execution of the test is recorded with the
// duration measured since the test started.
func (a *Agent) EndTest(uniformPath string, result *TestResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("ending test %s panicked: %v", uniformPath, r)
			a.log.Error(err, "Recovered from panic")
		}
	}()

	if result != nil && !result.Result.IsValid() {
		return errors.Errorf("invalid result %q for test %s", result.Result, uniformPath)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	dump, err := a.controller.StartSession("")
	if err != nil {
		return err
	}
	if previous := a.tests.end(uniformPath, a.clock.Now(), result); previous != uniformPath {
		a.log.Info("Test ended that was not running, its coverage is attributed to the running test",
			"test", uniformPath, "running", previous)
	}
	a.log.V(1).Info("Ended test", "test", uniformPath)
	metrics.RegisterRecordedTests(1)

	return a.record(dump)
}
