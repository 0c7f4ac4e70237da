// pkg/config/types.go
package config

// Config is the root configuration structure for wafp.
// It aggregates all other specific configuration structs.
type Config struct {
	Log      LogConfig      `description:"Logging configuration" koanf:"log"`
	Scan     ScanConfig     `description:"Scan configuration" koanf:"scan"`
	Database DatabaseConfig `description:"Database locations" koanf:"database"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `description:"Log level: trace | debug | info | warn | error" koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `description:"Log format: json | text" koanf:"format" validate:"oneof=text json"`
}

// ScanConfig holds the tunables of a live scan.
type ScanConfig struct {
	Threads    int    `description:"Number of concurrent fetch workers" koanf:"threads" validate:"min=1,max=256"`
	Timeout    int    `description:"Per-request timeout in seconds" koanf:"timeout" validate:"min=1,max=300"`
	Retries    int    `description:"Additional attempts after a timed out request" koanf:"retries" validate:"min=0,max=256"`
	SampleSize int    `description:"Paths sampled per product when identifying" koanf:"sample_size" validate:"min=1,max=1000"`
	Outlines   int    `description:"Number of ranked results printed" koanf:"outlines" validate:"min=1"`
	UserAgent  string `description:"User-Agent header sent with every request" koanf:"user_agent" validate:"required"`
	Proxy      string `description:"HTTP proxy URL" koanf:"proxy" validate:"omitempty,url"`
	LowMem     bool   `description:"Query the fingerprint database instead of loading it into memory" koanf:"low_mem"`
	Insecure   bool   `description:"Skip TLS certificate verification" koanf:"insecure"`
}

// DatabaseConfig locates the two SQLite databases. Empty paths resolve
// inside the workspace.
type DatabaseConfig struct {
	Fingerprints string `description:"Fingerprint database path" koanf:"fingerprints"`
	Scans        string `description:"Scan database path" koanf:"scans"`
}
