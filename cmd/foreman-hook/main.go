// Command foreman-hook is the short-lived helper an agent's tool-call
// hook execs once per tool invocation (or clarifying question). It speaks
// only the control-plane socket's request/response protocol: connect,
// send one request, block for the broker's one outcome, exit.
package main

import (
	"context"
	"os"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	os.Exit(Run(context.Background(), os.Args[1:]))
}
