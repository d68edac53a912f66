package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

const banner = `
    ____  __    ___    _   ____    ____  ____  ____
   / __ \/ /   /   |  / | / / /   / __ \/ __ \/ __ \
  / /_/ / /   / /| | /  |/ / /   / / / / / / / /_/ /
 / ____/ /___/ ___ |/ /|  / /___/ /_/ / /_/ / ____/
/_/   /_____/_/  |_/_/ |_/_____/\____/\____/_/

        >> plan . execute . observe . evaluate <<
`

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// PrintBanner writes the centered logo and the listen address to w.
func PrintBanner(w io.Writer, addr string) {
	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan, l, colorReset)
	}
	if addr != "" {
		fmt.Fprintf(w, "%slistening on %s%s\n\n", colorNeonMag, addr, colorReset)
	}
}

// StatusLine summarises uptime, memory and the active runs.
func StatusLine() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	runs := ActiveRuns()
	parts := make([]string, 0, len(runs))
	for _, r := range runs {
		id := r.RunID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("%s:%s/%s#%d", r.Variant, id, r.Phase, r.Iteration))
	}
	active := "idle"
	if len(parts) > 0 {
		active = strings.Join(parts, " ")
	}
	return fmt.Sprintf("up %v | mem %.1fMB | runs %d [%s]",
		time.Since(startTime).Round(time.Second),
		float64(m.Alloc)/1024/1024,
		len(runs),
		active,
	)
}
