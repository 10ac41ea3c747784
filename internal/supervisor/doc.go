// Package supervisor runs the frame producer as a child process.
//
// A Supervisor owns one command line. It starts the process, forwards its
// stdout and stderr to the logger, restarts it after unexpected exits and
// stops it on shutdown:
//   - Graceful stop with SIGINT and a configurable timeout
//   - SIGKILL once the graceful timeout expires
//   - Restart delay and an optional restart limit
//   - State hooks for publishing lifecycle changes
//
// Example:
//
//	sup, err := supervisor.New(supervisor.Config{
//	    Command: "shmview produce ultrasound_frames --fps 60",
//	}, logger)
//	sup.Start(ctx)
//	defer sup.Stop()
package supervisor
