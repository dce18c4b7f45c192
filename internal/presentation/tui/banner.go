package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the calltrace ASCII art banner.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"            _ _ _                       ", "#818cf8"},
		{"   ___ __ _| | | |_ _ __ __ _  ___ ___  ", "#a78bfa"},
		{"  / __/ _` | | | __| '__/ _` |/ __/ _ \\ ", "#c084fc"},
		{" | (_| (_| | | | |_| | | (_| | (_|  __/ ", "#e879f9"},
		{"  \\___\\__,_|_|_|\\__|_|  \\__,_|\\___\\___| ", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, p.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
