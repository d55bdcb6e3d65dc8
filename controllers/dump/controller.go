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

package dump

import (
	"sync"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// Extractor reads the probes captured by a coverage runtime. If reset is true, the probes are
// cleared as part of the same atomic operation.
type Extractor interface {
	Extract(reset bool) (*execdata.Store, error)
}

// DumpError is returned when the probes could not be extracted. The session stays open and the probes it captured
// are part of the next dump.
type DumpError struct {
	Err error
}

func (e *DumpError) Error() string {
	return "failed to extract execution data: " + e.Err.Error()
}

func (e *DumpError) Unwrap() error {
	return e.Err
}

// Controller owns the capture session. Extraction and reset happen atomically with respect to
// other controller calls, so every probe hit lands in exactly one dump.
type Controller struct {
	clock     clock.PassiveClock
	extractor Extractor
	log       logr.Logger

	mutex   sync.Mutex
	session execdata.SessionInfo
}

// NewController creates a new Controller and opens the first session under the given label.
func NewController(extractor Extractor, label string, clock clock.PassiveClock, log logr.Logger) *Controller {
	return &Controller{
		clock:     clock,
		extractor: extractor,
		log:       log.WithName("dump"),
		session:   execdata.SessionInfo{Start: clock.Now(), Partition: label},
	}
}

// DumpAndReset returns the probes captured since the last dump or reset and starts a new session
// with the same id and label.
func (c *Controller) DumpAndReset() (*execdata.Dump, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.rotate(func(*execdata.SessionInfo) {})
}

// Reset discards the probes captured so far and starts a new session.
func (c *Controller) Reset() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.extractor.Extract(true); err != nil {
		return &DumpError{Err: err}
	}
	c.session.Start = c.clock.Now()
	c.log.V(1).Info("Discarded captured probes")

	return nil
}

// SessionLabel returns the label of the current session.
func (c *Controller) SessionLabel() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.session.Partition
}

// SetSessionLabel closes the current session and opens a new one with the given label. The probes
// captured under the previous label are returned, labelling never applies retroactively. Setting
// the current label again is a no-op returning a nil dump.
func (c *Controller) SetSessionLabel(label string) (*execdata.Dump, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.session.Partition == label {
		return nil, nil
	}

	return c.rotate(func(session *execdata.SessionInfo) {
		session.Partition = label
	})
}

// SessionID returns the id of the current session.
func (c *Controller) SessionID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.session.ID
}

// StartSession closes the current session, returning its probes, and opens a new one with the
// given id. In testwise mode the id is the uniform path of the test that starts, or empty when a
// test ended.
func (c *Controller) StartSession(id string) (*execdata.Dump, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.rotate(func(session *execdata.SessionInfo) {
		session.ID = id
	})
}

func (c *Controller) rotate(update func(*execdata.SessionInfo)) (*execdata.Dump, error) {
	store, err := c.extractor.Extract(true)
	if err != nil {
		return nil, &DumpError{Err: err}
	}

	now := c.clock.Now()
	info := c.session
	info.Dump = now

	c.session.Start = now
	update(&c.session)
	c.log.V(1).Info("Closed session", "id", info.ID, "label", info.Partition, "classes", store.Len())

	return &execdata.Dump{Info: info, Store: store}, nil
}
