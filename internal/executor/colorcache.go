package executor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type colorFn = func(format string, a ...interface{}) string

func terminalColors() []colorFn {
	return []colorFn{color.CyanString, color.MagentaString, color.GreenString, color.YellowString, color.BlueString}
}

// colorCache assigns a stable color to each (package, task) vertex id the
// first time its output is seen, so interleaved streams stay visually
// distinguishable across a run.
type colorCache struct {
	mu      sync.Mutex
	index   int
	colors  []colorFn
	assign  map[string]colorFn
	enabled bool
}

func newColorCache(w interface{ Fd() uintptr }, forceColor, noColor bool) *colorCache {
	enabled := !noColor && (forceColor || isatty.IsTerminal(w.Fd()))
	return &colorCache{
		colors:  terminalColors(),
		assign:  make(map[string]colorFn),
		enabled: enabled,
	}
}

// prefix renders vertexID (a "package#task" id) as the spec's display form
// "[package:task] ".
func (c *colorCache) prefix(vertexID string) string {
	label := fmt.Sprintf("[%s] ", strings.Replace(vertexID, "#", ":", 1))
	if !c.enabled {
		return label
	}

	c.mu.Lock()
	fn, ok := c.assign[vertexID]
	if !ok {
		fn = c.colors[c.index%len(c.colors)]
		c.index++
		c.assign[vertexID] = fn
	}
	c.mu.Unlock()

	return fn("%s", label)
}
