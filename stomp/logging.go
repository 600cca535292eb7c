package stomp

import "time"

// logOp runs fn and records its outcome the way the teacher's
// LoggingMiddleware records an RPC call: start time captured before the
// call, duration and any error logged after it returns.
func (c *Connection) logOp(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)
	if err != nil {
		c.logger.Warnw("operation failed", "op", op, "duration", duration, "error", err)
	} else {
		c.logger.Debugw("operation completed", "op", op, "duration", duration)
	}
	return err
}
