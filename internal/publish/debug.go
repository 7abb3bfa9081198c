package publish

import "github.com/banshee-data/fallwatch/internal/monitoring"

var logs = monitoring.NewStreams("[publish] ")

// SetLogWriters configures the three logging streams for the publish package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w monitoring.LogWriters) {
	logs.SetWriters(w)
}

func opsf(format string, args ...interface{})   { logs.Opsf(format, args...) }
func diagf(format string, args ...interface{})  { logs.Diagf(format, args...) }
func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
