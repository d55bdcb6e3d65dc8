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
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// NewCounterReader returns the text exposition of a counter with the given options, labels and value, to be used
// as expected input of 'testutil.CollectAndCompare'.
func NewCounterReader(opts prometheus.CounterOpts, labels prometheus.Labels, value float64) io.Reader {
	name := prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name)

	builder := &strings.Builder{}
	writeHeader(builder, name, opts.Help, "counter")
	_, _ = fmt.Fprintf(builder, "%s%s %s\n", name, formatLabels(labels, ""), formatValue(value))

	return strings.NewReader(builder.String())
}

// NewHistogramReader returns the text exposition of a histogram with the given options and labels after the given
// observations were made, to be used as expected input of 'testutil.CollectAndCompare'.
func NewHistogramReader(opts prometheus.HistogramOpts, labels prometheus.Labels, observations ...float64) io.Reader {
	name := prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name)
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	builder := &strings.Builder{}
	writeHeader(builder, name, opts.Help, "histogram")

	sum := 0.0
	for _, observation := range observations {
		sum += observation
	}
	for _, bucket := range append(append([]float64{}, buckets...), math.Inf(1)) {
		count := 0
		for _, observation := range observations {
			if observation <= bucket {
				count++
			}
		}
		_, _ = fmt.Fprintf(builder, "%s_bucket%s %d\n", name, formatLabels(labels, formatValue(bucket)), count)
	}
	_, _ = fmt.Fprintf(builder, "%s_sum%s %s\n", name, formatLabels(labels, ""), formatValue(sum))
	_, _ = fmt.Fprintf(builder, "%s_count%s %d\n", name, formatLabels(labels, ""), len(observations))

	return strings.NewReader(builder.String())
}

func writeHeader(builder *strings.Builder, name, help, metricType string) {
	_, _ = fmt.Fprintf(builder, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, metricType)
}

// formatLabels renders the labels sorted by name, adding the 'le' label of histogram buckets if given.
func formatLabels(labels prometheus.Labels, le string) string {
	var pairs []string
	for name, value := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", name, value))
	}
	sort.Strings(pairs)
	if le != "" {
		pairs = append(pairs, fmt.Sprintf("le=%q", le))
	}
	if len(pairs) == 0 {
		return ""
	}

	return "{" + strings.Join(pairs, ",") + "}"
}

func formatValue(value float64) string {
	if math.IsInf(value, 1) {
		return "+Inf"
	}

	return strconv.FormatFloat(value, 'g', -1, 64)
}
