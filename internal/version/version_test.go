package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveFillsFromVCS(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-04-01T08:00:00Z"},
		}}, true
	}

	b := resolve(Build{Version: "dev", Commit: "unknown", Date: "unknown"}, read)
	assert.Equal(t, "0123456789ab", b.Commit)
	assert.Equal(t, "2026-04-01T08:00:00Z", b.Date)
}

func TestResolveKeepsLdflags(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "deadbeef"}}}, true
	}

	b := resolve(Build{Version: "1.4.0", Commit: "abc123", Date: "2026-03-01"}, read)
	assert.Equal(t, Build{Version: "1.4.0", Commit: "abc123", Date: "2026-03-01"}, b)

	b = resolve(Build{Version: "dev", Commit: "unknown", Date: "unknown"}, func() (*debug.BuildInfo, bool) { return nil, false })
	assert.Equal(t, "unknown", b.Commit)
}

func TestBuildRendering(t *testing.T) {
	b := Build{Version: "1.4.0", Commit: "abc123", Date: "2026-03-01"}

	assert.Equal(t, "storefront 1.4.0 (abc123, 2026-03-01)", b.String())
	assert.Equal(t, "abc123", b.Fields()["commit"])
	assert.Equal(t, "storefront/"+GetVersion(), UserAgent())
	assert.Equal(t, Current(), Current())
}
