package logging

type noOpLogger struct{}

// NewNoOpLogger returns a Logger that discards everything.
func NewNoOpLogger() Logger { return noOpLogger{} }

func (noOpLogger) Debug(string, ...any)  {}
func (noOpLogger) Info(string, ...any)   {}
func (noOpLogger) Warn(string, ...any)   {}
func (noOpLogger) Error(string, ...any)  {}
func (noOpLogger) Debugf(string, ...any) {}
func (noOpLogger) Infof(string, ...any)  {}
func (noOpLogger) Warnf(string, ...any)  {}
func (noOpLogger) Errorf(string, ...any) {}

func (n noOpLogger) With(...any) Logger { return n }
