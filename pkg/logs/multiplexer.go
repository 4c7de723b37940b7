// Package logs multiplexes the output of concurrently executing units onto
// a single stream with color-coded unit prefixes.
package logs

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ANSI color codes for unit label prefixes.
var colors = []string{
	"\033[36m", // cyan
	"\033[33m", // yellow
	"\033[32m", // green
	"\033[35m", // magenta
	"\033[34m", // blue
	"\033[31m", // red
	"\033[96m", // bright cyan
	"\033[93m", // bright yellow
	"\033[92m", // bright green
	"\033[95m", // bright magenta
}

const colorReset = "\033[0m"

// Options configures multiplexed output formatting.
type Options struct {
	// NoColor disables ANSI color codes in the output.
	NoColor bool
}

// Multiplexer fans multiple unit output streams into one writer, one line
// at a time, each line prefixed with its unit's label. Safe for concurrent
// use by executor workers.
type Multiplexer struct {
	out  io.Writer
	opts Options

	mu       sync.Mutex
	colorMap map[string]string
	colorIdx int
	maxLen   int
}

// NewMultiplexer creates a multiplexer writing to out.
func NewMultiplexer(out io.Writer, opts Options) *Multiplexer {
	return &Multiplexer{
		out:      out,
		opts:     opts,
		colorMap: make(map[string]string),
	}
}

// Writer returns a writer whose output is prefixed with the given label.
// Partial lines are buffered until a newline arrives; Close flushes any
// trailing partial line.
func (m *Multiplexer) Writer(label string) io.WriteCloser {
	m.mu.Lock()
	if !m.opts.NoColor {
		if _, exists := m.colorMap[label]; !exists {
			m.colorMap[label] = colors[m.colorIdx%len(colors)]
			m.colorIdx++
		}
	}
	if len(label) > m.maxLen {
		m.maxLen = len(label)
	}
	m.mu.Unlock()

	return &labelWriter{mux: m, label: label}
}

// writeLine writes one complete line under the multiplexer lock.
func (m *Multiplexer) writeLine(label, line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sb strings.Builder
	color := m.colorMap[label]
	if color != "" {
		sb.WriteString(color)
	}
	sb.WriteString(fmt.Sprintf("%-*s", m.maxLen, label))
	sb.WriteString(" | ")
	if color != "" {
		sb.WriteString(colorReset)
	}
	sb.WriteString(line)
	sb.WriteString("\n")

	fmt.Fprint(m.out, sb.String())
}

// labelWriter buffers partial lines for one unit.
type labelWriter struct {
	mux   *Multiplexer
	label string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *labelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(w.buf.Next(idx + 1))
		w.mux.writeLine(w.label, strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Close flushes any buffered partial line.
func (w *labelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.mux.writeLine(w.label, w.buf.String())
		w.buf.Reset()
	}
	return nil
}
