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

package execdata

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// DuplicatePolicy decides what happens when two classes share a name but differ in fingerprint.
type DuplicatePolicy string

const (
	// DuplicateFail aborts the merge with a DuplicateClassError.
	DuplicateFail DuplicatePolicy = "FAIL"

	// DuplicateWarn keeps the first class seen and logs a warning.
	DuplicateWarn DuplicatePolicy = "WARN"

	// DuplicateIgnore keeps the first class seen silently.
	DuplicateIgnore DuplicatePolicy = "IGNORE"
)

// ParseDuplicatePolicy parses the given value case-insensitively.
func ParseDuplicatePolicy(value string) (DuplicatePolicy, error) {
	switch policy := DuplicatePolicy(strings.ToUpper(strings.TrimSpace(value))); policy {
	case DuplicateFail, DuplicateWarn, DuplicateIgnore:
		return policy, nil
	default:
		return "", errors.Errorf("invalid duplicate class policy %q, expected one of FAIL, WARN, IGNORE", value)
	}
}

// DuplicateClassError is returned under the FAIL policy when two versions of a class collide.
type DuplicateClassError struct {
	Name   string
	First  uint64
	Second uint64
}

func (e *DuplicateClassError) Error() string {
	return fmt.Sprintf("found different class files with the same name %s (fingerprints %016x and %016x). "+
		"Make sure the class files of only one version of the application are provided", e.Name, e.First, e.Second)
}

// Resolver applies a DuplicatePolicy to colliding classes. The first class seen always wins.
type Resolver struct {
	log    logr.Logger
	policy DuplicatePolicy
}

// NewResolver creates a new Resolver for the given policy.
func NewResolver(policy DuplicatePolicy, log logr.Logger) *Resolver {
	return &Resolver{
		log:    log.WithName("duplicates"),
		policy: policy,
	}
}

// Policy returns the policy the resolver applies.
func (r *Resolver) Policy() DuplicatePolicy {
	return r.policy
}

// Resolve is called with the identity already kept and the colliding identity. It returns an error
// under the FAIL policy and nil otherwise, in which case the caller keeps first and drops second.
func (r *Resolver) Resolve(first, second ClassID) error {
	switch r.policy {
	case DuplicateFail:
		return &DuplicateClassError{Name: first.Name, First: first.Fingerprint, Second: second.Fingerprint}
	case DuplicateIgnore:
		return nil
	default:
		r.log.Info("Ignoring duplicate, non-identical class", "class", first.Name,
			"kept", fmt.Sprintf("%016x", first.Fingerprint),
			"dropped", fmt.Sprintf("%016x", second.Fingerprint))
		return nil
	}
}
