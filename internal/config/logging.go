package config

// LoggingConfig holds logging-related settings. An empty FilePath logs to
// stdout; otherwise the file is rotated by size and age and CONSOLE keeps a
// copy on stdout. SAMPLE_INITIAL > 0 samples repeated messages per second,
// which keeps per-request debug logging affordable.
type LoggingConfig struct {
	Level            string `mapstructure:"LEVEL"             json:"level"             validate:"required,log_level"`
	FilePath         string `mapstructure:"FILE"              json:"file"              validate:"omitempty"`
	Format           string `mapstructure:"FORMAT"            json:"format"            validate:"omitempty,log_format"`
	Console          bool   `mapstructure:"CONSOLE"           json:"console"`
	MaxSize          int    `mapstructure:"MAX_SIZE"          json:"max_size"          validate:"required,min=1,max=1000"`
	MaxBackups       int    `mapstructure:"MAX_BACKUPS"       json:"max_backups"       validate:"min=0,max=100"`
	MaxAge           int    `mapstructure:"MAX_AGE"           json:"max_age"           validate:"required,min=1,max=365"`
	SampleInitial    int    `mapstructure:"SAMPLE_INITIAL"    json:"sample_initial"    validate:"min=0"`
	SampleThereafter int    `mapstructure:"SAMPLE_THEREAFTER" json:"sample_thereafter" validate:"min=0"`
}
