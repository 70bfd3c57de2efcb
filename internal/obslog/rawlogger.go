package obslog

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// RawLogger traces individual wire bytes as they cross a PIO FIFO
// boundary, adapted from the teacher's USB/IP packet hex-dump logger:
// there it logged whole client<->server chunks, here it logs one byte
// at a time per protocol receiver, which is the unit the ISR actually
// hands off into internal/ring.
type RawLogger interface {
	Log(rx bool, protocol string, b byte)
}

type rawLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewRaw creates a RawLogger writing to w. If w is nil, the returned
// logger is a no-op, matching the teacher's "raw logging disabled"
// default.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w}
}

// Log emits a single-line trace: direction (rx from the keyboard, or tx
// a host->device command), protocol name, and the byte in hex.
func (r *rawLogger) Log(rx bool, protocol string, b byte) {
	if r.w == nil {
		return
	}
	dir := "tx"
	if rx {
		dir = "rx"
	}
	line := fmt.Sprintf("%s %-6s %s 0x%02x\n",
		time.Now().Format("2006/01/02 15:04:05.000"), protocol, dir, b)

	r.mu.Lock()
	_, _ = r.w.Write([]byte(line))
	r.mu.Unlock()
}
