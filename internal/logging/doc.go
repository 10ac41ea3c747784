// Package logging wires log/slog for shmview: one logger per module, each
// with its own level that can change at runtime.
//
// Initialize once at startup and fetch module loggers anywhere:
//
//	if err := logging.Initialize(logging.Config{Level: "info", Format: "text"}); err != nil {
//		return err
//	}
//	logger := logging.GetLogger("connection")
//	logger.Info("Connected", "shm_name", name, "max_frames", n)
//
// Every module logger carries a "module" attribute. Records fan out to
// whichever sinks exist when the logger is built:
//
//   - stdout, as text or JSON, when it is a terminal, pipe or file
//   - Config.File, appended in the same format
//   - the systemd journal when journald is reachable, with attributes as
//     upper-case fields (journalctl -t shmview MODULE=connection)
//   - an in-memory ring of recent entries, replayed by /api/logs/stream
//
// A failing sink does not stop the others.
//
// Levels come from the [logging] table of config.toml. Any key other than
// level, format and file names a module:
//
//	[logging]
//	level = "info"
//	connection = "debug"
//	decoder = "warn"
//
// SetLevels applies new levels without rebuilding handlers, which is what
// the config watcher calls on reload. SetLogCallback observes every entry
// the ring receives; main uses it to publish log events on the bus.
package logging
