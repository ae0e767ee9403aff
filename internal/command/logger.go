package command

import "go.uber.org/zap"

// newLogger builds the demo's logger: the development config when debugging,
// otherwise production config quieted to warnings so log lines do not fight
// the chat transcript for the terminal.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
