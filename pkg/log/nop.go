package log

var _ Logger = (*nopLogger)(nil)

// nopLogger discards everything. Used in tests and as a safe default.
type nopLogger struct{}

// NewNopLogger returns a Logger that discards all output.
func NewNopLogger() Logger {
	return &nopLogger{}
}

func (n *nopLogger) Debugf(format string, args ...interface{})      {}
func (n *nopLogger) Infof(format string, args ...interface{})       {}
func (n *nopLogger) Warnf(format string, args ...interface{})       {}
func (n *nopLogger) Errorf(format string, args ...interface{})      {}
func (n *nopLogger) Fatalf(format string, args ...interface{})      {}
func (n *nopLogger) WithField(key string, value interface{}) Logger { return n }
