package version

import "fmt"

// Переменные заполняются при сборке через -ldflags:
//
//	go build -ldflags "-X .../internal/version.version=v1.2.3"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сервиса.
func GetVersion() string {
	return version
}

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// String возвращает версию одной строкой для логов.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
