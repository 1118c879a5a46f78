package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karan-zipline/murmur/internal/daemon"
	"github.com/karan-zipline/murmur/internal/transport"
)

// rpcClient resolves the running daemon's control socket from its status
// file and returns a transport.Client bound to it, or an error telling the
// operator to start the daemon first.
func rpcClient(ctx context.Context, home string) (*transport.Client, error) {
	st, err := daemon.Status(ctx, home)
	if err != nil {
		return nil, err
	}
	if !st.Running {
		return nil, fmt.Errorf("murmur is not running (start it with `murmur start`)")
	}
	return transport.NewClient(st.SocketPath), nil
}

func callJSON(c *transport.Client, method string, params, out any) error {
	raw, err := c.Call(method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
