/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Version is the current version of Care Chords.
// This is set at build time via ldflags:
//
//	-X github.com/wdudokvanheel/care-chords/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the source revision, set at build time like Version.
var Commit = ""

// String renders the version line printed by the CLI.
func String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "carechords %s", Version)
	if Commit != "" {
		fmt.Fprintf(&b, " (%s)", shortCommit(Commit))
	}
	fmt.Fprintf(&b, " %s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	return b.String()
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
