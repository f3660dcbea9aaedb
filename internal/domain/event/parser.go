package event

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var (
	// ErrMalformedEvent is returned when a line cannot be parsed as a run event.
	ErrMalformedEvent = errors.New("malformed event line")
)

// ParseLine parses a single event line.
// Returns ErrMalformedEvent (wrapped) if the line is not a valid event.
func ParseLine(line string) (RunEvent, error) {
	var ev RunEvent

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ev, fmt.Errorf("%w: empty line", ErrMalformedEvent)
	}

	// Unknown fields are tolerated so runners can attach extra payload
	// without breaking older controllers.
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return RunEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if err := ev.Validate(); err != nil {
		return RunEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	return ev, nil
}

// StreamParser reads a line-oriented event stream and delivers parsed events
// in order. Malformed lines are dropped with a warning; they never abort the
// stream.
type StreamParser struct {
	// MaxLineBytes bounds the scanner buffer. Zero means the default (1 MiB).
	MaxLineBytes int
}

const defaultMaxLineBytes = 1 << 20

// Parse consumes r until EOF or context cancellation and sends each parsed
// event on the returned channel, preserving line order. The channel is closed
// when the stream ends.
func (p *StreamParser) Parse(ctx context.Context, r io.Reader) <-chan RunEvent {
	out := make(chan RunEvent)

	maxLine := p.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)

		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}

			ev, err := ParseLine(line)
			if err != nil {
				slog.Warn("Parser: Dropping malformed event line",
					"error", err,
					"line", truncateForLog(line))
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			// A broken pipe at process exit is normal; anything else is
			// still non-fatal for the run.
			slog.Warn("Parser: Event stream ended with error", "error", err)
		}
	}()

	return out
}

// truncateForLog keeps warning logs bounded when a runner misbehaves and
// emits huge garbage lines.
func truncateForLog(line string) string {
	const max = 256
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
