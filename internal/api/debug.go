package api

import "github.com/banshee-data/fallwatch/internal/monitoring"

var logs = monitoring.NewStreams("[api] ")

// SetLogWriters configures the logging streams for the api package.
func SetLogWriters(w monitoring.LogWriters) {
	logs.SetWriters(w)
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
