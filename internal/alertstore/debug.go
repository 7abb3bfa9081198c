package alertstore

import "github.com/banshee-data/fallwatch/internal/monitoring"

var logs = monitoring.NewStreams("[alertstore] ")

// SetLogWriters configures the logging streams for the alertstore package.
func SetLogWriters(w monitoring.LogWriters) {
	logs.SetWriters(w)
}

func opsf(format string, args ...interface{})  { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }
