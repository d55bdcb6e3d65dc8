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

package analysis

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// Index holds the class descriptors of the application under test, keyed by class name. At most
// one version of every class is kept, colliding versions are handed to the duplicate resolver.
type Index struct {
	log      logr.Logger
	filter   *ClassFilter
	resolver *execdata.Resolver

	mutex   sync.RWMutex
	classes map[string]*ClassFile
	order   []string
}

// NewIndex creates a new empty Index.
func NewIndex(filter *ClassFilter, resolver *execdata.Resolver, log logr.Logger) *Index {
	return &Index{
		log:      log.WithName("index"),
		filter:   filter,
		resolver: resolver,
		classes:  map[string]*ClassFile{},
	}
}

// LoadIndex creates a new Index holding all class descriptors found below the given paths.
func LoadIndex(paths []string, filter *ClassFilter, resolver *execdata.Resolver, log logr.Logger) (*Index, error) {
	index := NewIndex(filter, resolver, log)
	for _, path := range paths {
		if err := index.AddPath(path); err != nil {
			return nil, err
		}
	}
	index.log.Info("Loaded class files", "classes", index.Len(), "paths", paths)

	return index, nil
}

// Add adds the given class descriptor. Classes excluded by the filter are skipped and identical
// descriptors are only added once.
func (i *Index) Add(class *ClassFile) error {
	if !i.filter.Matches(class.Name) {
		return nil
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	if existing, found := i.classes[class.Name]; found {
		if existing.Fingerprint == class.Fingerprint {
			return nil
		}
		return i.resolver.Resolve(
			execdata.ClassID{Name: existing.Name, Fingerprint: existing.Fingerprint},
			execdata.ClassID{Name: class.Name, Fingerprint: class.Fingerprint},
		)
	}

	i.classes[class.Name] = class
	i.order = append(i.order, class.Name)

	return nil
}

// AddPath adds every class descriptor found at path, which may be a descriptor, a zip archive or
// a directory holding any of both.
func (i *Index) AddPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "cannot read class files from %s", path)
	}
	if !info.IsDir() {
		return i.addFile(path)
	}

	return filepath.WalkDir(path, func(file string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		return i.addFile(file)
	})
}

// Get returns the class with the given name or nil if it is unknown.
func (i *Index) Get(name string) *ClassFile {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	return i.classes[name]
}

// Classes returns all classes in the order they were added.
func (i *Index) Classes() []*ClassFile {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	classes := make([]*ClassFile, 0, len(i.order))
	for _, name := range i.order {
		classes = append(classes, i.classes[name])
	}

	return classes
}

// Len returns the number of classes in the index.
func (i *Index) Len() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	return len(i.order)
}

func (i *Index) addFile(path string) error {
	switch {
	case strings.HasSuffix(path, ClassFileSuffix):
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return err
		}
		return i.addContent(content, path)
	case isArchive(path):
		return i.addArchive(path)
	default:
		return nil
	}
}

func (i *Index) addArchive(path string) error {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive %s", path)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if !strings.HasSuffix(entry.Name, ClassFileSuffix) {
			continue
		}
		content, err := readEntry(entry)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s from %s", entry.Name, path)
		}
		if err := i.addContent(content, path+"!"+entry.Name); err != nil {
			return err
		}
	}

	return nil
}

func (i *Index) addContent(content []byte, location string) error {
	class, err := ParseClassFile(content, location)
	if err != nil {
		return err
	}

	return i.Add(class)
}

func readEntry(entry *zip.File) ([]byte, error) {
	reader, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip", ".jar", ".war":
		return true
	default:
		return false
	}
}
