// Package engineproc owns the trading-engine subprocess and speaks its
// line-oriented stdio protocol: command lines in, one JSON event per
// line out.
package engineproc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"tradebridge/internal/events"
)

// ErrChannelClosed is returned when a command cannot reach the engine
// because its stdin is no longer writable.
var ErrChannelClosed = errors.New("engine channel closed")

// Channel wraps a running engine subprocess and its three pipes. Events
// parsed from stdout are delivered on Events(); the channel is closed
// when the process's stdout reaches EOF. Stderr is drained continuously
// so the child never blocks on a full pipe.
type Channel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    chan events.Event
	logger zerolog.Logger

	mu     sync.Mutex // serializes stdin writes
	closed bool
}

// Start spawns the engine binary and begins reading its output. A spawn
// failure is returned wrapped; it is fatal to the bridge and must be
// surfaced to the startup caller.
func Start(logger zerolog.Logger, command string, args ...string) (*Channel, error) {
	cmd := exec.Command(command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn engine %q: %w", command, err)
	}

	c := &Channel{
		cmd:    cmd,
		stdin:  stdin,
		out:    make(chan events.Event, 256),
		logger: logger.With().Str("component", "engineproc").Logger(),
	}
	c.logger.Info().Str("command", command).Strs("args", args).Int("pid", cmd.Process.Pid).
		Msg("engine process started")

	go c.readLoop(stdout)
	go c.drainStderr(stderr)
	return c, nil
}

// Events returns the stream of parsed engine events. The channel is
// closed once the engine's stdout ends; it is not restartable.
func (c *Channel) Events() <-chan events.Event { return c.out }

// SendLine writes a single command line to the engine's stdin. Writes
// are serialized so concurrent callers cannot interleave partial
// commands. Returns ErrChannelClosed (wrapped) once stdin is dead.
func (c *Channel) SendLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if _, err := io.WriteString(c.stdin, line+"\n"); err != nil {
		c.closed = true
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return nil
}

// Stop requests engine termination. It closes stdin (the conventional
// shutdown signal for a line-protocol child) and sends SIGKILL if the
// process handle is still alive. Termination is advisory: callers must
// not assume the process is gone when Stop returns.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (c *Channel) readLoop(stdout io.Reader) {
	defer close(c.out)
	defer func() {
		// Reap the child so it does not linger as a zombie.
		_ = c.cmd.Wait()
	}()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal(line, &ev); err != nil || !ev.Type.Valid() {
			// Best-effort framing: unparseable lines and engine-internal
			// event types are dropped.
			c.logger.Debug().Str("line", string(line)).Msg("dropping unusable engine line")
			continue
		}
		c.out <- ev
	}
	c.logger.Info().Msg("engine stdout closed")
}

func (c *Channel) drainStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		c.logger.Debug().Str("stderr", sc.Text()).Msg("engine")
	}
}
