package logs

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexer_PrefixesLines(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{NoColor: true})

	w := mux.Writer("dev/vpc")
	_, err := w.Write([]byte("creating network\ndone\n"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "dev/vpc | creating network", lines[0])
	assert.Equal(t, "dev/vpc | done", lines[1])
}

func TestMultiplexer_BuffersPartialLines(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{NoColor: true})

	w := mux.Writer("app")
	_, _ = w.Write([]byte("hello "))
	assert.Empty(t, out.String())

	_, _ = w.Write([]byte("world\n"))
	assert.Equal(t, "app | hello world\n", out.String())
}

func TestMultiplexer_CloseFlushesTrailingLine(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{NoColor: true})

	w := mux.Writer("app")
	_, _ = w.Write([]byte("no trailing newline"))
	require.NoError(t, w.Close())
	assert.Equal(t, "app | no trailing newline\n", out.String())
}

func TestMultiplexer_InterleavedWritersKeepLinesIntact(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{NoColor: true})

	var wg sync.WaitGroup
	for _, label := range []string{"vpc", "db", "app"} {
		wg.Add(1)
		go func(label string) {
			defer wg.Done()
			w := mux.Writer(label)
			for i := 0; i < 50; i++ {
				_, _ = w.Write([]byte("line from " + label + "\n"))
			}
		}(label)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 150)
	for _, line := range lines {
		parts := strings.SplitN(line, " | ", 2)
		require.Len(t, parts, 2)
		assert.Equal(t, "line from "+strings.TrimSpace(parts[0]), parts[1])
	}
}

func TestMultiplexer_AssignsDistinctColors(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{})

	a := mux.Writer("a")
	b := mux.Writer("b")
	_, _ = a.Write([]byte("x\n"))
	_, _ = b.Write([]byte("y\n"))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.NotEqual(t, lines[0][:5], lines[1][:5])
	assert.Contains(t, lines[0], colorReset)
}

func TestMultiplexer_PadsToLongestLabel(t *testing.T) {
	var out bytes.Buffer
	mux := NewMultiplexer(&out, Options{NoColor: true})

	long := mux.Writer("dev/networking/vpc")
	short := mux.Writer("db")
	_, _ = long.Write([]byte("x\n"))
	_, _ = short.Write([]byte("y\n"))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Index(lines[0], " | "), strings.Index(lines[1], " | "))
}
