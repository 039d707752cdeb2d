// Copyright 2026 The Waasabi Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the waasabi
// binaries.
//
// Version information is injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/waasabi/waasabi-matrix/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version.
	Version = "0.1.0"
)

// Info returns a formatted version string for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildTime)
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the HTTP User-Agent for the named binary.
func UserAgent(name string) string {
	return name + "/" + Version
}

// Print writes the binary name and Full to stdout.
func Print(name string) {
	fmt.Printf("%s %s\n", name, Full())
}
