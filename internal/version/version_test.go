package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestString_ContainsAllFields(t *testing.T) {
	info := Info{Version: "1.2.3", Commit: "abc1234", BuildTime: "2026-01-01T00:00:00Z", GoVersion: "go1.23.0"}

	s := info.String()

	assert.Contains(t, s, "1.2.3")
	assert.Contains(t, s, "abc1234")
	assert.Contains(t, s, "2026-01-01T00:00:00Z")
	assert.Contains(t, s, "go1.23.0")
}
