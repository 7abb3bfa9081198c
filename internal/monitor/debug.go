package monitor

import "github.com/banshee-data/fallwatch/internal/monitoring"

var logs = monitoring.NewStreams("[monitor] ")

// SetLogWriters configures the logging streams for the monitor package.
func SetLogWriters(w monitoring.LogWriters) {
	logs.SetWriters(w)
}

func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }
