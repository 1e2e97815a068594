package logging

// Config selects how the motion core logs. It is decided once at startup.
type Config struct {
	Level string `json:"level,omitempty"`
	// Diagnostics enables the per-cycle pose and PID lines. When false those lines go to a blank
	// logger and cost nothing beyond the call.
	Diagnostics bool   `json:"diagnostics,omitempty"`
	File        string `json:"file,omitempty"`
	FileSizeMB  int    `json:"file_size_mb,omitempty"`
}

// Build returns the main logger and the diagnostics logger described by the config.
func (cfg Config) Build(name string) (Logger, Logger, error) {
	logger := NewLogger(name)
	if cfg.Level != "" {
		level, err := LevelFromString(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		logger.SetLevel(level)
	}
	if cfg.File != "" {
		logger.AddAppender(NewFileAppender(cfg.File, cfg.FileSizeMB))
	}
	return logger, Diagnostics(logger, cfg.Diagnostics), nil
}

// Diagnostics returns a debug-level sublogger of base when enabled, and a blank logger otherwise.
func Diagnostics(base Logger, enabled bool) Logger {
	if !enabled {
		return NewBlankLogger("diag")
	}
	diag := base.Sublogger("diag")
	diag.SetLevel(DEBUG)
	return diag
}
