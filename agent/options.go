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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/git"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/upload"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/clock"
)

// Mode selects how the agent reports coverage.
type Mode string

const (
	// NormalMode reports the coverage of all tests as one JaCoCo XML report.
	NormalMode Mode = "normal"

	// TestwiseMode attributes coverage to single tests and reports testwise coverage.
	TestwiseMode Mode = "testwise"
)

// ExtractorKind selects the capture subsystem the agent reads probes from.
type ExtractorKind string

const (
	// ProbesExtractor reads the in-process probe runtime.
	ProbesExtractor ExtractorKind = "probes"

	// GoCoverExtractor reads the counters of a binary built with -cover.
	GoCoverExtractor ExtractorKind = "gocover"
)

// Options holds the configuration of the agent.
type Options struct {
	ClassDirs        []string      `yaml:"class-dir"`
	Includes         string        `yaml:"includes"`
	Excludes         string        `yaml:"excludes"`
	OutputDir        string        `yaml:"out"`
	UploadURL        string        `yaml:"upload-url"`
	UploadMetadata   []string      `yaml:"upload-metadata"`
	Mode             Mode          `yaml:"mode"`
	Interval         int           `yaml:"interval"`
	DumpOnExit       bool          `yaml:"dump-on-exit"`
	IgnoreDuplicates bool          `yaml:"ignore-duplicates"`
	Duplicates       string        `yaml:"duplicates"`
	HTTPServerPort   int           `yaml:"http-server-port"`
	Extractor        ExtractorKind `yaml:"extractor"`
	LogFile          string        `yaml:"log-file"`

	TeamscaleServerURL   string `yaml:"teamscale-server-url"`
	TeamscaleProject     string `yaml:"teamscale-project"`
	TeamscaleUser        string `yaml:"teamscale-user"`
	TeamscaleAccessToken string `yaml:"teamscale-access-token"`
	TeamscalePartition   string `yaml:"teamscale-partition"`
	TeamscaleCommit      string `yaml:"teamscale-commit"`
	TeamscaleRevision    string `yaml:"teamscale-revision"`
	TeamscaleGitDir      string `yaml:"teamscale-git-dir"`
	TeamscaleMessage     string `yaml:"teamscale-message"`

	AzureURL string `yaml:"azure-url"`
	AzureKey string `yaml:"azure-key"`
}

// DefaultOptions returns the options used for every key that is not configured.
func DefaultOptions() *Options {
	return &Options{
		Mode:             NormalMode,
		Interval:         60,
		DumpOnExit:       true,
		IgnoreDuplicates: true,
		Extractor:        ProbesExtractor,
		TeamscaleMessage: "Agent coverage upload",
	}
}

// LoadOptionsFile returns the default options overridden by the YAML file found at the given path.
func LoadOptionsFile(path string) (*Options, error) {
	options := DefaultOptions()
	if err := options.loadFile(path); err != nil {
		return nil, err
	}

	return options, nil
}

// ParseOptions parses an agent option string of the form key=value,key=value. The YAML file named by the
// config-file key is applied first, so the other keys of the string override it.
func ParseOptions(value string) (*Options, error) {
	options := DefaultOptions()

	var pairs [][2]string
	for _, option := range strings.Split(value, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, found := strings.Cut(option, "=")
		if !found {
			return nil, errors.Errorf("invalid option %q, expected key=value", option)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "config-file" {
			if err := options.loadFile(value); err != nil {
				return nil, err
			}
			continue
		}
		pairs = append(pairs, [2]string{key, value})
	}

	for _, pair := range pairs {
		if err := options.set(pair[0], pair[1]); err != nil {
			return nil, err
		}
	}

	return options, nil
}

func (o *Options) loadFile(path string) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(content, o); err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}

	return nil
}

func (o *Options) set(key, value string) error {
	var err error

	switch key {
	case "class-dir":
		o.ClassDirs = append(o.ClassDirs, filepath.SplitList(value)...)
	case "includes":
		o.Includes = value
	case "excludes":
		o.Excludes = value
	case "out":
		o.OutputDir = value
	case "upload-url":
		o.UploadURL = value
	case "upload-metadata":
		o.UploadMetadata = append(o.UploadMetadata, filepath.SplitList(value)...)
	case "mode":
		o.Mode = Mode(strings.ToLower(value))
	case "interval":
		o.Interval, err = strconv.Atoi(value)
	case "dump-on-exit":
		o.DumpOnExit, err = strconv.ParseBool(value)
	case "ignore-duplicates":
		o.IgnoreDuplicates, err = strconv.ParseBool(value)
	case "duplicates":
		o.Duplicates = value
	case "http-server-port":
		o.HTTPServerPort, err = strconv.Atoi(value)
	case "extractor":
		o.Extractor = ExtractorKind(strings.ToLower(value))
	case "log-file":
		o.LogFile = value
	case "teamscale-server-url":
		o.TeamscaleServerURL = value
	case "teamscale-project":
		o.TeamscaleProject = value
	case "teamscale-user":
		o.TeamscaleUser = value
	case "teamscale-access-token":
		o.TeamscaleAccessToken = value
	case "teamscale-partition":
		o.TeamscalePartition = value
	case "teamscale-commit":
		o.TeamscaleCommit = value
	case "teamscale-revision":
		o.TeamscaleRevision = value
	case "teamscale-git-dir":
		o.TeamscaleGitDir = value
	case "teamscale-message":
		o.TeamscaleMessage = value
	case "azure-url":
		o.AzureURL = value
	case "azure-key":
		o.AzureKey = value
	default:
		return errors.Errorf("unknown option %q", key)
	}

	if err != nil {
		return errors.Wrapf(err, "invalid value %q for option %s", value, key)
	}

	return nil
}

// DuplicatePolicy returns the policy duplicate classes are resolved with. The duplicates key takes precedence over
// ignore-duplicates.
func (o *Options) DuplicatePolicy() (execdata.DuplicatePolicy, error) {
	if o.Duplicates != "" {
		return execdata.ParseDuplicatePolicy(o.Duplicates)
	}
	if o.IgnoreDuplicates {
		return execdata.DuplicateWarn, nil
	}

	return execdata.DuplicateFail, nil
}

// Validate checks the options for consistency and returns all the problems found as a single error.
func (o *Options) Validate() error {
	var result *multierror.Error

	switch o.Mode {
	case NormalMode, TestwiseMode:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown mode %q", o.Mode))
	}

	switch o.Extractor {
	case ProbesExtractor:
		if len(o.ClassDirs) == 0 {
			result = multierror.Append(result, errors.New("you must specify at least one class directory"))
		}
	case GoCoverExtractor:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown extractor %q", o.Extractor))
	}

	for _, dir := range o.ClassDirs {
		if _, err := os.Stat(dir); err != nil {
			result = multierror.Append(result, fmt.Errorf("class path %s does not exist", dir))
		}
	}

	if o.OutputDir == "" {
		result = multierror.Append(result, errors.New("you must specify an output directory"))
	}

	if o.Interval < 0 {
		result = multierror.Append(result, fmt.Errorf("the dump interval must not be negative, got %d", o.Interval))
	}

	if _, err := o.DuplicatePolicy(); err != nil {
		result = multierror.Append(result, err)
	}

	if o.Mode == TestwiseMode && o.UploadURL != "" {
		result = multierror.Append(result, errors.New("the upload URL cannot be used in testwise mode"))
	}

	if len(o.UploadMetadata) > 0 && o.UploadURL == "" {
		result = multierror.Append(result, errors.New("you specified additional upload metadata files but no upload URL"))
	}
	for _, file := range o.UploadMetadata {
		if _, err := os.Stat(file); err != nil {
			result = multierror.Append(result, fmt.Errorf("upload metadata file %s does not exist", file))
		}
	}

	if o.hasTeamscaleOptions() {
		if o.TeamscaleServerURL == "" || o.TeamscaleProject == "" || o.TeamscaleUser == "" ||
			o.TeamscaleAccessToken == "" || o.TeamscalePartition == "" {
			result = multierror.Append(result, errors.New("you did provide some options prefixed with 'teamscale-', "+
				"but not all required ones: server-url, project, user, access-token and partition"))
		}
		if o.TeamscaleCommit == "" && o.TeamscaleRevision == "" && o.TeamscaleGitDir == "" {
			result = multierror.Append(result, errors.New("you must specify either teamscale-commit, "+
				"teamscale-revision or teamscale-git-dir"))
		}
	}

	if (o.AzureURL == "") != (o.AzureKey == "") {
		result = multierror.Append(result, errors.New("you must specify both azure-url and azure-key"))
	}

	stores := 0
	for _, configured := range []bool{o.UploadURL != "", o.hasTeamscaleOptions(), o.AzureURL != ""} {
		if configured {
			stores++
		}
	}
	if stores > 1 {
		result = multierror.Append(result, errors.New("you may only configure one upload target: "+
			"upload-url, teamscale-server-url or azure-url"))
	}

	return result.ErrorOrNil()
}

func (o *Options) hasTeamscaleOptions() bool {
	return o.TeamscaleServerURL != "" || o.TeamscaleProject != "" || o.TeamscaleUser != "" ||
		o.TeamscaleAccessToken != "" || o.TeamscalePartition != "" || o.TeamscaleCommit != "" ||
		o.TeamscaleRevision != "" || o.TeamscaleGitDir != ""
}

// CreateStore creates the store reports are handed to. Every remote store writes the report to the output
// directory first.
func (o *Options) CreateStore(client *http.Client, clock clock.PassiveClock, log logr.Logger) (upload.Store, error) {
	prefix := "jacoco"
	if o.Mode == TestwiseMode {
		prefix = "testwise"
	}
	files := upload.NewFileStore(o.OutputDir, prefix, clock)

	switch {
	case o.UploadURL != "":
		return upload.NewHTTPStore(files, o.UploadURL, o.UploadMetadata, client, log), nil
	case o.AzureURL != "":
		return upload.NewAzureStore(files, upload.AzureConfig{URL: o.AzureURL, AccessKey: o.AzureKey},
			o.UploadMetadata, client, clock, log)
	case o.hasTeamscaleOptions():
		revision := o.TeamscaleRevision
		if revision == "" && o.TeamscaleCommit == "" {
			resolved, err := git.ResolveRevision(o.TeamscaleGitDir, "")
			if err != nil {
				return nil, errors.Wrap(err, "failed to determine the revision to upload coverage to")
			}
			revision = resolved
		}
		return upload.NewTeamscaleStore(files, upload.TeamscaleServer{
			URL:         o.TeamscaleServerURL,
			Project:     o.TeamscaleProject,
			User:        o.TeamscaleUser,
			AccessToken: o.TeamscaleAccessToken,
			Partition:   o.TeamscalePartition,
			Commit:      o.TeamscaleCommit,
			Revision:    revision,
			Message:     o.TeamscaleMessage,
		}, client, log), nil
	}

	return files, nil
}
