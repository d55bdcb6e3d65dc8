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

package testwise

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CompactLines renders ascending line numbers as ranges, e.g. [1 2 3 4 7] becomes "1-4,7".
func CompactLines(lines []int) string {
	var builder strings.Builder
	for i := 0; i < len(lines); {
		start := i
		for i+1 < len(lines) && lines[i+1] == lines[i]+1 {
			i++
		}

		if builder.Len() > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.Itoa(lines[start]))
		if i > start {
			builder.WriteByte('-')
			builder.WriteString(strconv.Itoa(lines[i]))
		}
		i++
	}

	return builder.String()
}

// ExpandLines parses the output of CompactLines.
func ExpandLines(compact string) ([]int, error) {
	var lines []int
	if compact == "" {
		return lines, nil
	}

	for _, part := range strings.Split(compact, ",") {
		bounds := strings.SplitN(part, "-", 2)
		start, err := strconv.Atoi(bounds[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid line range %q", part)
		}
		end := start
		if len(bounds) == 2 {
			if end, err = strconv.Atoi(bounds[1]); err != nil {
				return nil, errors.Wrapf(err, "invalid line range %q", part)
			}
		}
		for line := start; line <= end; line++ {
			lines = append(lines, line)
		}
	}

	return lines, nil
}
