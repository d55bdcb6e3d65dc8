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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/testwise"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler returns the HTTP handler serving the control endpoints of the agent.
func (a *Agent) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/partition", a.handleGetPartition)
	router.Post("/partition/", a.handleMissingPartition)
	router.Post("/partition/{partition}", a.handleSetPartition)
	router.Post("/dump", a.handleDump)
	router.Post("/reset", a.handleReset)

	if a.options.Mode == TestwiseMode {
		router.Post("/test/start/*", a.handleTestStart)
		router.Post("/test/end/*", a.handleTestEnd)
	}

	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	router.Handle("/healthz", http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"ping": healthz.Ping,
	}}))
	router.Handle("/readyz", http.StripPrefix("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{
		"ping": healthz.Ping,
	}}))

	return router
}

func (a *Agent) handleGetPartition(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, a.Partition())
}

func (a *Agent) handleMissingPartition(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Partition name is missing!", http.StatusBadRequest)
}

func (a *Agent) handleSetPartition(w http.ResponseWriter, r *http.Request) {
	partition, err := url.PathUnescape(chi.URLParam(r, "partition"))
	if err != nil || strings.TrimSpace(partition) == "" {
		http.Error(w, "Partition name is missing!", http.StatusBadRequest)
		return
	}

	if err := a.SetPartition(r.Context(), partition); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDump always answers 204. Failed cycles are logged and counted by DumpReport.
func (a *Agent) handleDump(w http.ResponseWriter, r *http.Request) {
	_ = a.DumpReport(r.Context(), TriggerHTTP)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := a.Reset(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleTestStart(w http.ResponseWriter, r *http.Request) {
	uniformPath, ok := testPath(w, r)
	if !ok {
		return
	}

	var details *testwise.TestDetails
	if !decodeOptionalBody(w, r, &details) {
		return
	}

	if err := a.StartTest(uniformPath, details); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Agent) handleTestEnd(w http.ResponseWriter, r *http.Request) {
	uniformPath, ok := testPath(w, r)
	if !ok {
		return
	}

	var result *TestResult
	if !decodeOptionalBody(w, r, &result) {
		return
	}
	if result != nil && !result.Result.IsValid() {
		http.Error(w, "Invalid test result "+string(result.Result), http.StatusBadRequest)
		return
	}

	if err := a.EndTest(uniformPath, result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testPath returns the uniform path of the test named by the wildcard of the route.
func testPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	uniformPath, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || uniformPath == "" {
		http.Error(w, "Test uniform path is missing!", http.StatusBadRequest)
		return "", false
	}

	return uniformPath, true
}

// decodeOptionalBody decodes the JSON body of the request into target, leaving it untouched for empty bodies.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, target); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}
