package config

type AppConfig struct {
	LogLevel  string
	Allocator *AllocatorConfig
	Driver    *DriverConfig
}

func New() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		Allocator: NewAllocatorConfig(),
		Driver:    NewDriverConfig(),
	}
}
