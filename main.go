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

package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/batch"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/loader"
)

var setupLog = ctrl.Log.WithName("setup")

// pathList is a flag that may be given several times.
type pathList []string

func (p *pathList) String() string {
	return strings.Join(*p, ",")
}

func (p *pathList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

func main() {
	var inputs, classDirs pathList
	var output, name, duplicates, includes, excludes string
	var testwise bool
	flag.Var(&inputs, "input", "A file or directory holding exec files, class files, test lists or test executions. "+
		"May be given several times.")
	flag.Var(&classDirs, "class-dir", "A directory or archive holding class files. May be given several times.")
	flag.StringVar(&output, "output", "", "The file the report is written to.")
	flag.StringVar(&name, "name", "coverage", "The name of the JaCoCo report.")
	flag.BoolVar(&testwise, "testwise", false, "Write a testwise coverage report instead of a JaCoCo XML report.")
	flag.StringVar(&duplicates, "duplicates", string(execdata.DuplicateWarn),
		"How to handle different classes with the same name: warn, ignore or fail.")
	flag.StringVar(&includes, "includes", "", "Colon separated patterns of the classes to include.")
	flag.StringVar(&excludes, "excludes", "", "Colon separated patterns of the classes to exclude.")
	opts := zap.Options{
		Development: true,
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	policy, err := execdata.ParseDuplicatePolicy(duplicates)
	if err != nil {
		setupLog.Error(err, "invalid duplicates option")
		os.Exit(1)
	}
	if len(inputs) == 0 {
		setupLog.Info("no input given, pass at least one --input")
		os.Exit(1)
	}

	runner := batch.NewRunner(loader.NewLoader(), ctrl.Log)
	err = runner.Run(context.Background(), &batch.Config{
		Inputs:     inputs,
		ClassDirs:  classDirs,
		Output:     output,
		Testwise:   testwise,
		Duplicates: policy,
		Includes:   includes,
		Excludes:   excludes,
		Name:       name,
	})
	if err != nil {
		setupLog.Error(err, "conversion failed")
		os.Exit(1)
	}
}
