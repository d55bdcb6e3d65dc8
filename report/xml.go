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

package report

import (
	"bytes"
	"encoding/xml"
	"os"
	"strconv"

	"github.com/TRANSPOREONGroup/teamscale-jacoco-agent/analysis"
	"github.com/google/uuid"
)

const xmlDoctype = `<!DOCTYPE report PUBLIC "-//JACOCO//DTD Report 1.1//EN" "report.dtd">`

type xmlReport struct {
	XMLName     xml.Name       `xml:"report"`
	Name        string         `xml:"name,attr"`
	SessionInfo xmlSessionInfo `xml:"sessioninfo"`
	Packages    []xmlPackage   `xml:"package"`
	Counters    []xmlCounter   `xml:"counter"`
}

type xmlSessionInfo struct {
	ID    string `xml:"id,attr"`
	Start int64  `xml:"start,attr"`
	Dump  int64  `xml:"dump,attr"`
}

type xmlPackage struct {
	Name        string          `xml:"name,attr"`
	Classes     []xmlClass      `xml:"class"`
	SourceFiles []xmlSourceFile `xml:"sourcefile"`
	Counters    []xmlCounter    `xml:"counter"`
}

type xmlClass struct {
	Name           string       `xml:"name,attr"`
	SourceFileName string       `xml:"sourcefilename,attr"`
	Counters       []xmlCounter `xml:"counter"`
}

type xmlSourceFile struct {
	Name     string       `xml:"name,attr"`
	Lines    []xmlLine    `xml:"line"`
	Counters []xmlCounter `xml:"counter"`
}

type xmlLine struct {
	Number             int `xml:"nr,attr"`
	MissedInstructions int `xml:"mi,attr"`
	CoveredInstruction int `xml:"ci,attr"`
	MissedBranches     int `xml:"mb,attr"`
	CoveredBranches    int `xml:"cb,attr"`
}

type xmlCounter struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

// XML renders the report in the JaCoCo XML report format.
func (r *Report) XML() ([]byte, error) {
	document := xmlReport{
		Name: r.Name,
		SessionInfo: xmlSessionInfo{
			ID:    sessionID(r),
			Start: r.Session.Start.UnixMilli(),
			Dump:  r.Session.Dump.UnixMilli(),
		},
		Counters: xmlCounters(r.Counters()),
	}

	for _, pkg := range r.Packages {
		xmlPkg := xmlPackage{Name: pkg.Name, Counters: xmlCounters(pkg.Counters())}
		for _, class := range pkg.Classes {
			xmlPkg.Classes = append(xmlPkg.Classes, xmlClass{
				Name:           class.Class.Name,
				SourceFileName: class.Class.SourceFile,
				Counters:       xmlCounters(classCounters(class)),
			})
		}
		for _, sourceFile := range pkg.SourceFiles {
			xmlPkg.SourceFiles = append(xmlPkg.SourceFiles, toXMLSourceFile(sourceFile))
		}
		document.Packages = append(document.Packages, xmlPkg)
	}

	content, err := xml.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, err
	}

	buffer := &bytes.Buffer{}
	buffer.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	buffer.WriteString(xmlDoctype + "\n")
	buffer.Write(content)

	return buffer.Bytes(), nil
}

func toXMLSourceFile(sourceFile *SourceFileCoverage) xmlSourceFile {
	result := xmlSourceFile{Name: sourceFile.Name}
	fileClass := &analysis.ClassCoverage{Lines: sourceFile.Lines}
	for _, line := range sourceFile.Lines {
		result.Lines = append(result.Lines, xmlLine{
			Number:             line.Line,
			MissedInstructions: line.MissedInstructions,
			CoveredInstruction: line.CoveredInstructions,
			MissedBranches:     line.MissedBranches,
			CoveredBranches:    line.CoveredBranches,
		})
	}
	result.Counters = xmlCounters(Counters{
		Instructions: fileClass.InstructionCounter(),
		Branches:     fileClass.BranchCounter(),
		Lines:        fileClass.LineCounter(),
	})

	return result
}

func xmlCounters(counters Counters) []xmlCounter {
	var result []xmlCounter
	for _, counter := range []struct {
		name  string
		value analysis.Counter
	}{
		{"INSTRUCTION", counters.Instructions},
		{"BRANCH", counters.Branches},
		{"LINE", counters.Lines},
		{"CLASS", counters.Classes},
	} {
		if counter.value.Covered+counter.value.Missed == 0 {
			continue
		}
		result = append(result, xmlCounter{Type: counter.name, Missed: counter.value.Missed, Covered: counter.value.Covered})
	}

	return result
}

func sessionID(r *Report) string {
	if r.Session.ID != "" {
		return r.Session.ID
	}
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.NewString()
	}

	return hostname + "-" + strconv.FormatInt(r.Session.Start.UnixMilli(), 16) + "-" + uuid.NewString()[:8]
}
