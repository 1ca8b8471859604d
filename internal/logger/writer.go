package logger

// Writer is an object that writes logs.
type Writer interface {
	Log(Level, string, ...interface{})
}
