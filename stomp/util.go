package stomp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gostomp/frame"
)

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}

// mergeTimeout bounds the dial+CONNECT round trip, adapted from the
// teacher's TimeOutMiddleware: a plain context.WithTimeout over the
// whole operation rather than a race-against-a-goroutine, since
// transport.Open and ReadFrame already honor ctx/deadlines directly and
// don't need a second goroutine racing them.
func mergeTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

func heartbeatHeader(cx, cy int) string {
	return fmt.Sprintf("%d,%d", cx, cy)
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newFrameFromHeaders(command string, h *frame.Headers) *frame.Frame {
	f := frame.New(command)
	f.Headers = h.Clone()
	return f
}
