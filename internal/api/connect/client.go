package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// Start starts a session. fields override the configured session params.
func (c *ControlClient) Start(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return c.call(ctx, c.start, fields)
}

// Stop stops the running session.
func (c *ControlClient) Stop(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, c.stop, nil)
}

// Configure updates the stored session params and idle light.
func (c *ControlClient) Configure(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return c.call(ctx, c.configure, fields)
}

// Status returns the current status.
func (c *ControlClient) Status(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, c.status, nil)
}

// Perform plays a named action.
func (c *ControlClient) Perform(ctx context.Context, name string) (map[string]any, error) {
	return c.call(ctx, c.perform, map[string]any{"name": name})
}

// Subscribe calls fn for every notification until ctx ends, the server closes
// the stream or fn returns an error.
func (c *ControlClient) Subscribe(ctx context.Context, fn func(map[string]any) error) error {
	req, err := c.newRequest(nil)
	if err != nil {
		return err
	}
	stream, err := c.subscribe.CallServerStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg().AsMap()); err != nil {
			return err
		}
	}
	return stream.Err()
}

func (c *ControlClient) call(ctx context.Context, client *connect.Client[structpb.Struct, structpb.Struct], fields map[string]any) (map[string]any, error) {
	req, err := c.newRequest(fields)
	if err != nil {
		return nil, err
	}
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg.AsMap(), nil
}

func (c *ControlClient) newRequest(fields map[string]any) (*connect.Request[structpb.Struct], error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}
	req := connect.NewRequest(msg)
	if c.token != "" {
		req.Header().Set(ControlTokenHeader, c.token)
	}
	return req, nil
}
