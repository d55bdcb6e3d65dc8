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

// Package instrumentation starts the coverage agent inside an instrumented binary. Importing the package is
// enough: if the agent options are found in the environment, the agent is started before main runs and a last
// dump is taken when the process is asked to terminate.
package instrumentation

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/agent"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/controllers/dump"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/gocover"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/metadata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/probes"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"
)

const (
	// shutdownTimeout bounds the reports still in progress and the last dump cycle taken on shutdown.
	shutdownTimeout = 30 * time.Second

	// uploadTimeout bounds every request sent to the upload targets.
	uploadTimeout = time.Minute
)

var (
	mutex   sync.Mutex
	running *agent.Agent
	cancel  context.CancelFunc
	logFile *os.File
)

func init() {
	value, found := os.LookupEnv(metadata.AgentOptionsEnv)
	if !found {
		return
	}

	if err := Start(value); err != nil {
		zap.New(zap.UseDevMode(true)).WithName(metadata.ServiceName).Error(err, "unable to start the coverage agent")
		return
	}

	ctx := signals.SetupSignalHandler()
	go func() {
		<-ctx.Done()
		_ = Shutdown()
		os.Exit(1)
	}()
}

// Start parses the given agent options and starts the agent. Only one agent may run at a time.
func Start(value string) error {
	mutex.Lock()
	defer mutex.Unlock()

	if running != nil {
		return errors.New("the coverage agent is already running")
	}

	options, err := agent.ParseOptions(value)
	if err != nil {
		return err
	}
	if err := options.Validate(); err != nil {
		return err
	}

	log, err := newLogger(options)
	if err != nil {
		return err
	}

	var extractor dump.Extractor = probes.Default
	if options.Extractor == agent.GoCoverExtractor {
		extractor = gocover.NewExtractor(filepath.Join(options.OutputDir, "gocover"), log)
	}

	store, err := options.CreateStore(&http.Client{Timeout: uploadTimeout}, clock.RealClock{}, log)
	if err != nil {
		closeLogFile()
		return err
	}

	instance, err := agent.NewAgent(options, extractor, store, clock.RealClock{}, log)
	if err != nil {
		closeLogFile()
		return err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	if err := instance.Start(ctx); err != nil {
		cancelFunc()
		closeLogFile()
		return err
	}

	running, cancel = instance, cancelFunc

	return nil
}

// Shutdown stops the running agent, taking a last dump if the agent is configured to. It does nothing if no agent
// is running.
func Shutdown() error {
	mutex.Lock()
	defer mutex.Unlock()

	if running == nil {
		return nil
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelTimeout()

	err := running.Stop(ctx)
	cancel()
	closeLogFile()
	running, cancel = nil, nil

	return err
}

// Running returns the agent started by Start or nil if no agent is running.
func Running() *agent.Agent {
	mutex.Lock()
	defer mutex.Unlock()

	return running
}

func newLogger(options *agent.Options) (logr.Logger, error) {
	opts := zap.Options{
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}

	if options.LogFile != "" {
		file, err := os.OpenFile(filepath.Clean(options.LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return logr.Discard(), errors.Wrapf(err, "failed to open log file %s", options.LogFile)
		}
		logFile = file
		opts.DestWriter = file
	}

	return zap.New(zap.UseFlagOptions(&opts)).WithName(metadata.ServiceName), nil
}

func closeLogFile() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
