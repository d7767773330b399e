// Package progress streams task state transitions to a socket.io
// monitoring endpoint, so a long pipeline run can be watched from a
// dashboard. It is optional: runs without a configured progress URL
// never touch the network.
package progress

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/seqlab/cappflow/internal/ctxlog"
	"github.com/seqlab/cappflow/internal/graph"
)

// stateEvent is the event name carrying one task transition.
const stateEvent = "task_state"

const connectTimeout = 10 * time.Second

// Emitter is a connected socket.io client publishing run events.
type Emitter struct {
	io    *socket.Socket
	runID string
}

// Dial connects to the monitoring endpoint at rawURL. It fails fast if
// the initial connection cannot be established within the timeout, so a
// misconfigured URL surfaces before any task runs.
func Dial(ctx context.Context, rawURL, runID string) (*Emitter, error) {
	logger := ctxlog.FromContext(ctx)

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid progress URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)

	opts := socket.DefaultOptions()
	if parsed.Path != "" {
		opts.SetPath(parsed.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket("/", opts)

	connected := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected to progress endpoint.", "url", baseURL, "sid", io.Id())
		select {
		case connected <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("progress connection failed")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connected <- err:
		default:
		}
	})

	io.Connect()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	select {
	case <-dialCtx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("timed out connecting to progress endpoint %s", baseURL)
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, err
		}
	}
	return &Emitter{io: io, runID: runID}, nil
}

// Observe publishes one task transition. It matches the executor's
// Observer signature and never blocks the dispatcher: emission is
// fire-and-forget.
func (e *Emitter) Observe(t *graph.Task) {
	e.io.Emit(stateEvent, map[string]any{
		"run_id": e.runID,
		"task":   t.ID(),
		"stage":  t.Stage,
		"sample": t.Sample,
		"state":  t.State().String(),
		"at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Close disconnects from the endpoint.
func (e *Emitter) Close() {
	e.io.Disconnect()
}
