//go:build coverage

package main

// Starts the coverage agent when the binary is built with the coverage tag and the agent options are set.
import _ "github.com/TRANSPOREONGroup/teamscale-jacoco-agent/instrumentation"
