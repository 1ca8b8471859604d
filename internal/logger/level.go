package logger

// Level is a log level.
type Level int

// Log levels.
const (
	Info Level = iota + 1
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}
