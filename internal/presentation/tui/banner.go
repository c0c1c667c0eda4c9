package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{`                    _                     _   `, "#fb7185"},
	{`   __ _ _ __  _   _| |__   ___  __ _ _ __| |_ `, "#f472b6"},
	{`  / _' | '_ \| | | | '_ \ / _ \/ _' | '__| __|`, "#e879f9"},
	{` | (_| | | | | |_| | | | |  __/ (_| | |  | |_ `, "#c084fc"},
	{`  \__,_|_| |_|\__, |_| |_|\___|\__,_|_|   \__|`, "#a78bfa"},
	{`              |___/                           `, "#818cf8"},
}

// PrintBanner writes the anyheart banner to w in the given color profile.
func PrintBanner(w io.Writer, p termenv.Profile) {
	fmt.Fprintln(w)
	for _, line := range bannerLines {
		fmt.Fprintln(w, termenv.String(line.text).Foreground(p.Color(line.color)))
	}
	fmt.Fprintln(w)
}
