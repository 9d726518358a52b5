package tools

import (
	"context"
	"time"

	"github.com/vinayprograms/winsys-mcp/shutdown"
)

// ServerStatus is the output of the server_status tool.
type ServerStatus struct {
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptime_seconds"`
	ExitCode    int     `json:"exit_code"`
}

// StatusTool reports the server's lifecycle state.
func StatusTool(coord *shutdown.Coordinator, started time.Time) Tool {
	return &Func{
		ToolName: "server_status",
		Desc:     "Report the server's shutdown status and number of open connections",
		Handler: func(ctx context.Context, args Args) (interface{}, error) {
			st := ServerStatus{
				Status:      coord.Status().String(),
				Connections: coord.Connections().Len(),
				Uptime:      time.Since(started).Seconds(),
				ExitCode:    coord.ExitCode(),
			}
			if coord.Status() != shutdown.StatusNotStarted {
				st.Reason = coord.Reason().String()
			}
			return st, nil
		},
	}
}
