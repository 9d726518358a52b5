// Package transport provides the JSON-RPC 2.0 carriers for winsys-mcp and
// the adapters that release them during shutdown.
//
// # Transports
//
//   - StdioTransport: newline-delimited messages over stdin/stdout
//   - WebSocketTransport: one session per WebSocket connection
//   - SSETransport: Server-Sent Events out, HTTP POST in, one SSESession per stream
//
// All transports share the channel-based Transport interface:
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	go t.Run(ctx)
//
//	for msg := range t.Recv() {
//	    if msg.Request != nil {
//	        t.Send(transport.NewResult(msg.Request.ID, result))
//	    }
//	}
//
// Run returns nil when the peer goes away, so the caller can start a
// normal shutdown.
//
// # Shutdown adapters
//
// A StreamAdapter closes the write stream and then the read stream of a
// stream transport. A SessionAdapter notifies every live session that
// implements CloseNotifier and closes it, all sessions sharing one
// timeout. Both register themselves as transport-phase hooks:
//
//	stdio := transport.NewStreamAdapter(transport.NameStdio, logger)
//	stdio.SetStreams(t, os.Stdout)
//	stdio.Register(coord.Hooks())
//
// Adapter failures are logged and never fail the shutdown.
//
// # Thread Safety
//
// All transport and adapter methods are safe for concurrent use. The
// Recv() channel is closed when the peer goes away or the transport stops.
package transport
