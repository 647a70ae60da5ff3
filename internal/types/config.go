package types

type RunMode string

const (
	// ModeLocal runs the API server, the message router and the billing scheduler in one process
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running the API server and the message router
	ModeAPI RunMode = "api"
	// ModeScheduler runs only the billing cycle scheduler
	ModeScheduler RunMode = "scheduler"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type PubSubBackend string

const (
	PubSubBackendMemory PubSubBackend = "memory"
	PubSubBackendKafka  PubSubBackend = "kafka"
)
