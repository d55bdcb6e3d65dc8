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

package aggregator

import (
	"io"
	"os"
	"path/filepath"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// MergedSessionID is the session id of dumps produced by merging several sessions.
const MergedSessionID = "merged"

// Source yields dumps one at a time and returns io.EOF once it is exhausted.
type Source interface {
	Next() (*execdata.Dump, error)
}

// Aggregator merges execution data stores. Probe vectors of identical classes are ORed, colliding
// versions of a class are handed to the duplicate resolver and the first version seen is kept.
type Aggregator struct {
	log      logr.Logger
	resolver *execdata.Resolver
}

// NewAggregator creates a new Aggregator.
func NewAggregator(resolver *execdata.Resolver, log logr.Logger) *Aggregator {
	return &Aggregator{
		log:      log.WithName("aggregator"),
		resolver: resolver,
	}
}

// Merge merges the given stores into a new store. Merging no stores results in an empty store.
func (a *Aggregator) Merge(stores ...*execdata.Store) (*execdata.Store, error) {
	m := a.newMerge()
	for _, store := range stores {
		if err := m.add(store); err != nil {
			return nil, err
		}
	}

	return m.result, nil
}

// MergeSource consumes the source and merges all of its dumps into one. The session info of the
// result spans from the earliest start to the latest dump time.
func (a *Aggregator) MergeSource(source Source) (*execdata.Dump, error) {
	m := a.newMerge()
	info := execdata.SessionInfo{ID: MergedSessionID}
	count := 0

	for {
		dump, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := m.add(dump.Store); err != nil {
			return nil, err
		}
		info = spanSessions(info, dump.Info, count == 0)
		count++
	}
	a.log.V(1).Info("Merged dumps", "dumps", count, "classes", m.result.Len())

	return &execdata.Dump{Info: info, Store: m.result}, nil
}

// MergeFiles merges the dumps of the given exec files. Files are read one after the other and
// every dump is folded into the result before the next one is read.
func (a *Aggregator) MergeFiles(paths ...string) (*execdata.Dump, error) {
	return a.MergeSource(FileSource(paths...))
}

// FileSource returns a Source yielding the dumps of the given exec files in order. A file is only
// opened once the dumps of the previous one are consumed.
func FileSource(paths ...string) Source {
	return &fileSource{paths: paths}
}

// SliceSource returns a Source yielding the given dumps in order.
func SliceSource(dumps ...*execdata.Dump) Source {
	return &sliceSource{dumps: dumps}
}

type merge struct {
	resolver *execdata.Resolver
	result   *execdata.Store
	kept     map[string]execdata.ClassID
}

func (a *Aggregator) newMerge() *merge {
	return &merge{
		resolver: a.resolver,
		result:   execdata.NewStore(),
		kept:     map[string]execdata.ClassID{},
	}
}

func (m *merge) add(store *execdata.Store) error {
	if store == nil {
		return nil
	}

	for _, data := range store.Contents() {
		if kept, found := m.kept[data.Name]; found && kept != data.ID() {
			if err := m.resolver.Resolve(kept, data.ID()); err != nil {
				return err
			}
			continue
		}
		if err := m.result.Merge(data); err != nil {
			return err
		}
		m.kept[data.Name] = data.ID()
	}

	return nil
}

func spanSessions(merged, info execdata.SessionInfo, first bool) execdata.SessionInfo {
	if first {
		merged.Start = info.Start
		merged.Dump = info.Dump
		merged.Partition = info.Partition
		return merged
	}
	if info.Start.Before(merged.Start) {
		merged.Start = info.Start
	}
	if info.Dump.After(merged.Dump) {
		merged.Dump = info.Dump
	}
	if merged.Partition != info.Partition {
		merged.Partition = ""
	}

	return merged
}

type sliceSource struct {
	dumps []*execdata.Dump
}

func (s *sliceSource) Next() (*execdata.Dump, error) {
	if len(s.dumps) == 0 {
		return nil, io.EOF
	}
	dump := s.dumps[0]
	s.dumps = s.dumps[1:]

	return dump, nil
}

type fileSource struct {
	paths  []string
	file   *os.File
	reader *execdata.Reader
}

func (s *fileSource) Next() (*execdata.Dump, error) {
	for {
		if s.reader == nil {
			if len(s.paths) == 0 {
				return nil, io.EOF
			}
			file, err := os.Open(filepath.Clean(s.paths[0]))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to open %s", s.paths[0])
			}
			s.file = file
			s.reader = execdata.NewReader(file)
		}

		dump, err := s.reader.Next()
		if err == io.EOF {
			_ = s.file.Close()
			s.file, s.reader = nil, nil
			s.paths = s.paths[1:]
			continue
		}
		if err != nil {
			_ = s.file.Close()
			return nil, errors.Wrapf(err, "failed to read %s", s.paths[0])
		}

		return dump, nil
	}
}
