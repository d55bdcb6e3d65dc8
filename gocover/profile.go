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

package gocover

import (
	"path"
	"strconv"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/execdata"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/tools/cover"
)

// FromProfiles maps cover profiles onto execution data. Every source file becomes a class and
// every coverage block one of its probes. The fingerprint is derived from the block layout, so a
// changed file results in a different class version.
func FromProfiles(profiles []*cover.Profile) (*execdata.Store, []*analysis.ClassFile) {
	store := execdata.NewStore()
	classes := make([]*analysis.ClassFile, 0, len(profiles))

	for _, profile := range profiles {
		class := &analysis.ClassFile{
			Name:       profile.FileName,
			SourceFile: path.Base(profile.FileName),
			Package:    path.Dir(profile.FileName),
			Probes:     make([]analysis.ProbeMapping, 0, len(profile.Blocks)),
			Location:   profile.FileName,
		}
		probes := make([]bool, 0, len(profile.Blocks))

		digest := xxhash.New()
		for _, block := range profile.Blocks {
			_, _ = digest.WriteString(blockKey(block))

			lines := make([]int, 0, block.EndLine-block.StartLine+1)
			for line := block.StartLine; line <= block.EndLine; line++ {
				lines = append(lines, line)
			}
			class.Probes = append(class.Probes, analysis.ProbeMapping{Lines: lines})
			probes = append(probes, block.Count > 0)
		}
		class.Fingerprint = digest.Sum64()

		store.Put(execdata.NewExecutionData(class.Fingerprint, class.Name, probes))
		classes = append(classes, class)
	}

	return store, classes
}

func blockKey(block cover.ProfileBlock) string {
	return strconv.Itoa(block.StartLine) + "." + strconv.Itoa(block.StartCol) + "," +
		strconv.Itoa(block.EndLine) + "." + strconv.Itoa(block.EndCol) + ":" + strconv.Itoa(block.NumStmt) + ";"
}
