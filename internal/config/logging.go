package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Format     string `yaml:"format"`     // json, console
	File       string `yaml:"file"`       // optional extra sink
	Categories string `yaml:"categories"` // comma list; empty enables all
}
