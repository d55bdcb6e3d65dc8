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

package git

import (
	"fmt"
	"regexp"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var shaRegex = regexp.MustCompile("^[a-f0-9]{40}$")

// IsSHA checks if a reference is already a 40-character SHA
func IsSHA(ref string) bool {
	return shaRegex.MatchString(ref)
}

// ResolveRevision resolves a revision (branch, tag, abbreviated hash or HEAD) of the repository the
// given directory belongs to into a commit SHA. An empty revision resolves HEAD.
func ResolveRevision(dir, revision string) (string, error) {
	if IsSHA(revision) {
		return revision, nil
	}
	if dir == "" {
		return "", fmt.Errorf("invalid configuration: a git directory is required to resolve revision '%s'", revision)
	}
	if revision == "" {
		revision = plumbing.HEAD.String()
	}

	repository, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("repository access failed: %w", err)
	}

	hash, err := repository.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", fmt.Errorf("revision lookup failed: revision '%s' not found in repository: %w", revision, err)
	}

	return hash.String(), nil
}
