package daemon

// StartOptions configures the daemon (home dir, config file, control
// socket override, optional pprof listener).
type StartOptions struct {
	Home       string
	ConfigPath string // path to murmur.toml
	SocketPath string // overrides config.File.Socket when set
	PprofAddr  string
	EnableOtel bool // enable OpenTelemetry metrics (Prometheus exporter)
}

// StatusInfo is the result of Status (running or not, PID, control socket).
type StatusInfo struct {
	Running    bool
	PID        int
	SocketPath string
}
