// Package version несёт сведения о сборке, проставляемые через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает git-коммит сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

// String собирает сведения о сборке в одну строку для логов запуска.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
