// Package shutdown coordinates graceful shutdown of the server.
//
// # Overview
//
// A Coordinator turns a termination signal, a lost peer or an unrecoverable
// error into one ordered, bounded wind-down. It runs at most once per
// process; a second request while a run is in progress is rejected with
// ErrAlreadyShutdown.
//
// # Architecture
//
//	 SIGINT / SIGTERM
//	        │
//	 ┌──────▼──────┐  first signal: cancel Context, call OnSignal hooks
//	 │ SignalTrap  │  repeated signal: restore disposition, re-raise
//	 └──────┬──────┘
//	        │ go Shutdown(ReasonSignal)
//	 ┌──────▼───────────────────────────────────────────────────────┐
//	 │                        Coordinator                           │
//	 ├──────────────────────────────────────────────────────────────┤
//	 │  Pre hooks → close connections → Transport hooks → Post hooks│
//	 │  (sequential)  (concurrent,      (one per        (sequential)│
//	 │                 one deadline)     transport)                 │
//	 └──────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.Hooks().RegisterPre("flush-metrics", flush)
//	coord.Hooks().RegisterPost("telemetry", provider.OnShutdown)
//
//	trap := shutdown.NewSignalTrap()
//	trap.OnSignal("server_shutdown", coord.SignalHook())
//	trap.Install()
//	defer trap.Restore()
//
//	// transports track their connections
//	coord.Connections().Add(id, conn)
//
//	<-coord.Done()
//	os.Exit(coord.ExitCode())
//
// # Status and exit codes
//
//   - Completed (0): every phase ran; hook and close errors are only logged
//   - Forced (1): connections were still closing when the deadline passed
//   - Failed (2): a fault escaped the sequence or the caller's context was cancelled
//
// Hooks get no per-hook deadline. A hook that never returns stalls the run;
// on signal-initiated shutdown the force-exit watchdog bounds the process
// lifetime instead.
package shutdown
