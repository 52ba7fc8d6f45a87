package config

// Config holds server configuration.
type Config struct {
	Port          int
	UploadsDir    string
	ObservAddress string
	HistoryPath   string
	KeyFilePath   string
	AcceptRate    float64
	AcceptBurst   int
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:          7878,
		UploadsDir:    "uploads",
		ObservAddress: "127.0.0.1:8081",
		HistoryPath:   "ferryd-history.db",
		KeyFilePath:   "",
		AcceptRate:    50,
		AcceptBurst:   100,
	}
}
