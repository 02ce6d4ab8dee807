package main

import (
	"fmt"
	"strconv"
)

// set with -ldflags "-X main.gitSHA1=..."
var (
	version   string = "0.1.0"
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildDate string = "unknown"
)

// Version adds git commit and working tree status when available.
func Version() string {
	v := version
	if isGitSHA(gitSHA1) {
		v = fmt.Sprintf("%s (git:%s", v, gitSHA1)
		if dirtyInt, err := strconv.ParseInt(gitDirty, 10, 64); err == nil && dirtyInt != 0 {
			v += "-dirty"
		}
		v += ")"
	}
	if buildDate != "unknown" {
		v = fmt.Sprintf("%s built %s", v, buildDate)
	}
	return v
}

// only the short prefix is parsed: a full sha1 overflows uint64
func isGitSHA(s string) bool {
	if len(s) < 7 {
		return false
	}
	n, err := strconv.ParseUint(s[:7], 16, 64)
	return err == nil && n != 0
}
