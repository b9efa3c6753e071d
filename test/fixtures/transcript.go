// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/eliteGoblin/focusd/app_limit/internal/infra/hostbridge"
)

// Transcript builds a host-bridge notification stream.
type Transcript struct {
	lines []hostbridge.Inbound
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Open records app coming to the foreground at ms.
func (t *Transcript) Open(app string, ms int64) *Transcript {
	t.lines = append(t.lines, hostbridge.Inbound{App: app, Kind: "window_appeared", TS: ms})
	return t
}

// Change records a content change in app at ms.
func (t *Transcript) Change(app string, ms int64) *Transcript {
	t.lines = append(t.lines, hostbridge.Inbound{App: app, Kind: "content_changed", TS: ms})
	return t
}

// Scroll records a non-qualifying notification.
func (t *Transcript) Scroll(app string, ms int64) *Transcript {
	t.lines = append(t.lines, hostbridge.Inbound{App: app, Kind: "view_scrolled", TS: ms})
	return t
}

// Browse records browser showing url in its address bar, nested the way
// a browser toolbar usually is.
func (t *Transcript) Browse(browser, url string, ms int64) *Transcript {
	title := "New tab"
	tree := &hostbridge.Node{
		Children: []*hostbridge.Node{
			{Text: &title},
			{Children: []*hostbridge.Node{{Text: &url}}},
		},
	}
	t.lines = append(t.lines, hostbridge.Inbound{App: browser, Kind: "content_changed", TS: ms, Tree: tree})
	return t
}

// Lines returns one JSON document per notification.
func (t *Transcript) Lines() [][]byte {
	out := make([][]byte, 0, len(t.lines))
	for _, l := range t.lines {
		data, err := json.Marshal(l)
		if err != nil {
			panic(err)
		}
		out = append(out, data)
	}
	return out
}

// Bytes returns the transcript as JSON lines.
func (t *Transcript) Bytes() []byte {
	return append(bytes.Join(t.Lines(), []byte("\n")), '\n')
}

// CommandLog collects the commands a bridge writes. Safe for concurrent use.
type CommandLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (c *CommandLog) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Commands decodes every command written so far as "cmd" or "cmd:route".
func (c *CommandLog) Commands() []string {
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var cmd hostbridge.Outbound
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			continue
		}
		if cmd.Route != "" {
			out = append(out, cmd.Cmd+":"+cmd.Route)
		} else {
			out = append(out, cmd.Cmd)
		}
	}
	return out
}

var _ io.Writer = (*CommandLog)(nil)
