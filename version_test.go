package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsGitSHA(t *testing.T) {
	assert.True(t, isGitSHA("9a04cc21af0f"))
	assert.True(t, isGitSHA("3b18c9a9f1d2e6c0f0c3d46d2a0f5b9d77f0a1c2"))
	assert.False(t, isGitSHA("unknown"))
	assert.False(t, isGitSHA("abc"))
	assert.False(t, isGitSHA("0000000"))
}

func TestVersion(t *testing.T) {
	defer func(sha, dirty string) { gitSHA1, gitDirty = sha, dirty }(gitSHA1, gitDirty)

	gitSHA1, gitDirty = "unknown", "unknown"
	assert.Equal(t, version, Version())

	gitSHA1, gitDirty = "9a04cc2", "1"
	assert.Equal(t, version+" (git:9a04cc2-dirty)", Version())
}
