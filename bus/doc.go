// Package bus carries winsys-mcp lifecycle events over a message bus.
//
// # Implementations
//
//   - NATSBus: a NATS connection, drained on shutdown
//   - MemoryBus: in-process delivery for single-instance deployments and tests
//
// # Lifecycle
//
// An Announcer publishes a JSON Event on winsys.lifecycle.shutdown when a
// shutdown starts. It is registered as a pre-shutdown hook, and the bus
// itself is tracked as a connection so it is drained with the others:
//
//	b, _ := bus.NewNATSBus(cfg)
//	ann := bus.NewAnnouncer(b, bus.SubjectShutdown, logger)
//	coord.Hooks().RegisterPre("announce-shutdown", ann.Hook(coord))
//	coord.Connections().Add("bus", b)
//
// WatchShutdownRequests lets an operator stop a server by publishing to
// winsys.control.shutdown.
package bus
