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

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	ConversionDurationSeconds = prometheus.NewHistogramVec(
		ConversionDurationSecondsOpts,
		[]string{"format"},
	)
	ConversionDurationSecondsOpts = prometheus.HistogramOpts{
		Name:    "coverage_agent_conversion_duration_seconds",
		Help:    "Time spent converting a dump into a report of the given format",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}

	DumpDurationSeconds = prometheus.NewHistogram(
		DumpDurationSecondsOpts,
	)
	DumpDurationSecondsOpts = prometheus.HistogramOpts{
		Name:    "coverage_agent_dump_duration_seconds",
		Help:    "Duration of a whole dump cycle from the extraction of the probes til the report is stored",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}

	DumpTotal = prometheus.NewCounterVec(
		DumpTotalOpts,
		[]string{"succeeded", "trigger"},
	)
	DumpTotalOpts = prometheus.CounterOpts{
		Name: "coverage_agent_dump_total",
		Help: "Total number of dump cycles run by the agent",
	}

	TestsRecordedTotal = prometheus.NewCounter(
		TestsRecordedTotalOpts,
	)
	TestsRecordedTotalOpts = prometheus.CounterOpts{
		Name: "coverage_agent_tests_recorded_total",
		Help: "Total number of test executions whose coverage was recorded",
	}

	UploadTotal = prometheus.NewCounterVec(
		UploadTotalOpts,
		[]string{"store", "succeeded"},
	)
	UploadTotalOpts = prometheus.CounterOpts{
		Name: "coverage_agent_upload_total",
		Help: "Total number of reports handed to an upload store",
	}
)

// RegisterConversion registers a new observation for 'coverage_agent_conversion_duration_seconds' with the
// elapsed time of converting a dump into the given format.
func RegisterConversion(format string, startTime, completionTime time.Time) {
	ConversionDurationSeconds.
		With(prometheus.Labels{"format": format}).
		Observe(completionTime.Sub(startTime).Seconds())
}

// RegisterDump increments 'coverage_agent_dump_total' and, if the dump succeeded, registers a new observation for
// 'coverage_agent_dump_duration_seconds'.
func RegisterDump(trigger string, startTime, completionTime time.Time, succeeded bool) {
	DumpTotal.With(prometheus.Labels{
		"succeeded": strconv.FormatBool(succeeded),
		"trigger":   trigger,
	}).Inc()

	if succeeded {
		DumpDurationSeconds.Observe(completionTime.Sub(startTime).Seconds())
	}
}

// RegisterRecordedTests increments 'coverage_agent_tests_recorded_total' by the given amount.
func RegisterRecordedTests(count int) {
	if count <= 0 {
		return
	}
	TestsRecordedTotal.Add(float64(count))
}

// RegisterUpload increments 'coverage_agent_upload_total'.
func RegisterUpload(store string, succeeded bool) {
	UploadTotal.With(prometheus.Labels{
		"store":     store,
		"succeeded": strconv.FormatBool(succeeded),
	}).Inc()
}

func init() {
	metrics.Registry.MustRegister(
		ConversionDurationSeconds,
		DumpDurationSeconds,
		DumpTotal,
		TestsRecordedTotal,
		UploadTotal,
	)
}
