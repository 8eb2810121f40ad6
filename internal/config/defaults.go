package config

const (
	defaultOutputDir = "."
	defaultStateDir  = ".stagehand"
	defaultLogDir    = "~/.local/share/stagehand/logs"
	defaultLogFormat = "console"
	defaultLogLevel  = "info"
	defaultShell     = "sh"
)

// DefaultOutputMask lists suffixes that are never forwarded as stage outputs:
// index and log side files.
var DefaultOutputMask = []string{".bai", ".fai", ".tbi", ".csi", ".log"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Pipeline: Pipeline{
			OutputMask:   append([]string(nil), DefaultOutputMask...),
			TrackOutputs: true,
			Shell:        defaultShell,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
