package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrMalformedHandshake reports a handshake file that is not "<port>:<secret-hex>".
var ErrMalformedHandshake = errors.New("malformed handshake file")

// Params is the resolved connection endpoint.
type Params struct {
	Port   int
	Secret uint64
}

const handshakeLockRetry = 50 * time.Millisecond

// ParseHandshake parses "<port-decimal>:<secret-hex>". Surrounding whitespace
// and a trailing newline are tolerated.
func ParseHandshake(content string) (Params, error) {
	trimmed := strings.TrimSpace(content)
	portText, secretText, ok := strings.Cut(trimmed, ":")
	if !ok {
		return Params{}, fmt.Errorf("%w: missing ':' separator", ErrMalformedHandshake)
	}
	port, err := strconv.Atoi(strings.TrimSpace(portText))
	if err != nil || port <= 0 || port > 65535 {
		return Params{}, fmt.Errorf("%w: invalid port %q", ErrMalformedHandshake, portText)
	}
	secret, err := ParseSecret(secretText)
	if err != nil {
		return Params{}, err
	}
	return Params{Port: port, Secret: secret}, nil
}

// ParseSecret parses the hexadecimal shared secret.
func ParseSecret(text string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(text)), "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty secret", ErrMalformedHandshake)
	}
	secret, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid secret", ErrMalformedHandshake)
	}
	return secret, nil
}

// ReadHandshake reads and parses the handshake file while holding a shared
// lock so a concurrent rewrite by the service is never observed half-written.
func ReadHandshake(ctx context.Context, path string) (Params, error) {
	// flock opens with O_CREATE; stat first so a missing file is reported
	// instead of created empty.
	if _, err := os.Stat(path); err != nil {
		return Params{}, fmt.Errorf("stat handshake file: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryRLockContext(ctx, handshakeLockRetry)
	if err != nil {
		return Params{}, fmt.Errorf("lock handshake file: %w", err)
	}
	if locked {
		defer func() { _ = lock.Unlock() }()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read handshake file: %w", err)
	}
	return ParseHandshake(string(data))
}
