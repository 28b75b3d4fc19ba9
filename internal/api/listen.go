package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dgrissen2/plannotator-ext/internal/config"
)

// ErrPortInUse is matched by the error Listen returns once retries run out.
var ErrPortInUse = errors.New("port in use")

// PortInUseError reports a port that stayed taken for every attempt.
type PortInUseError struct {
	Port     int
	Attempts int
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port %d in use after %d attempts (set %s to use a different port)", e.Port, e.Attempts, config.EnvPort)
}

func (e *PortInUseError) Is(target error) bool { return target == ErrPortInUse }

// Listen binds host:port. While the address is in use it tries again, up to
// attempts times in total, sleeping delay between tries. Any other bind
// failure is returned immediately.
func Listen(ctx context.Context, host string, port, attempts int, delay time.Duration, logger zerolog.Logger) (net.Listener, error) {
	if attempts < 1 {
		attempts = 1
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var lc net.ListenConfig
	for attempt := 1; ; attempt++ {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !isAddrInUse(err) {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		if attempt >= attempts {
			return nil, &PortInUseError{Port: port, Attempts: attempt}
		}

		logger.Warn().
			Int("port", port).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("port in use, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func isAddrInUse(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if errno == 10048 { // Windows WSAEADDRINUSE
			return true
		}
		if errno == syscall.EADDRINUSE {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}
