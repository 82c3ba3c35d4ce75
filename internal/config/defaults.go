package config

const (
	defaultHandshakeFile          = "/var/run/tunneld/port.txt"
	defaultConnectAttempts        = 4
	defaultConnectBackoffMillis   = 1000
	defaultDialTimeoutMillis      = 2000
	defaultCallTimeoutSeconds     = 180
	defaultVPNMode                = "wireguard"
	defaultMinPingIntervalSeconds = 10
	defaultPingTimeoutMillis      = 3000
	defaultPingRetries            = 2
	defaultLogDir                 = "~/.local/share/tunnelctl/logs"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Service: Service{
			HandshakeFile:      defaultHandshakeFile,
			ConnectAttempts:    defaultConnectAttempts,
			ConnectBackoffMS:   defaultConnectBackoffMillis,
			DialTimeoutMS:      defaultDialTimeoutMillis,
			CallTimeoutSeconds: defaultCallTimeoutSeconds,
		},
		Servers: Servers{
			VPNMode:                defaultVPNMode,
			MinPingIntervalSeconds: defaultMinPingIntervalSeconds,
			PingTimeoutMS:          defaultPingTimeoutMillis,
			PingRetries:            defaultPingRetries,
		},
		Logging: Logging{
			Dir:    defaultLogDir,
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
