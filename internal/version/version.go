// Package version описывает сборку витрины.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Заполняются через -ldflags "-X" при сборке.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: версия, коммит и время сборки бинарника.
type Build struct {
	Version string
	Commit  string
	Date    string
}

var (
	currentOnce sync.Once
	current     Build
)

// Current возвращает сведения о сборке. Если ldflags не заданы,
// коммит и время берутся из VCS-меток go build.
func Current() Build {
	currentOnce.Do(func() {
		current = resolve(Build{Version: version, Commit: commit, Date: date}, debug.ReadBuildInfo)
	})
	return current
}

func resolve(b Build, read func() (*debug.BuildInfo, bool)) Build {
	info, ok := read()
	if !ok || info == nil {
		return b
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == "unknown" && s.Value != "":
			b.Commit = s.Value
			if len(b.Commit) > 12 {
				b.Commit = b.Commit[:12]
			}
		case s.Key == "vcs.time" && b.Date == "unknown" && s.Value != "":
			b.Date = s.Value
		}
	}
	return b
}

// GetVersion возвращает версию для health-ответа.
func GetVersion() string { return Current().Version }

// Fields: поля для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

func (b Build) String() string {
	return fmt.Sprintf("storefront %s (%s, %s)", b.Version, b.Commit, b.Date)
}

// UserAgent подписывает исходящие запросы к внешним реестрам.
func UserAgent() string {
	return "storefront/" + Current().Version
}
