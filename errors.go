package popen

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is the fault given to every channel in flight when
// the Session is closed (or when the transport ends without reporting
// an error of its own), and is returned by a channel open attempted
// after that.
var ErrSessionClosed = errors.New("popen: session closed")

// ChannelOpenFailedError wraps the transport's refusal to open a
// session channel. The Open-with-retry driver retries on this error
// specifically (and only this error); everything else is surfaced
// immediately.
type ChannelOpenFailedError struct {
	Reason  uint32
	Message string
}

func (e *ChannelOpenFailedError) Error() string {
	return fmt.Sprintf("channel open failed (reason %d): %s", e.Reason, e.Message)
}

// IsChannelOpenFailed reports whether err is (or wraps) a
// ChannelOpenFailedError.
func IsChannelOpenFailed(err error) bool {
	var e *ChannelOpenFailedError
	return errors.As(err, &e)
}
