package utils

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func levelStyle(color string) lipgloss.Style {
	return lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Foreground(lipgloss.Color("16")).
		Background(lipgloss.Color(color))
}

// ColorizeLogs restyles the level tags of buffered log lines for the
// dashboard's log view.
func ColorizeLogs(logs []string) []string {
	levels := []struct {
		tag   string
		color string
	}{
		{"INFO", "87"},
		{"WARN", "214"},
		{"ERRO", "204"},
		{"DEBU", "63"},
	}

	for i, line := range logs {
		// Only style if not already styled (check for ANSI codes)
		if strings.Contains(line, "\x1b[") {
			continue
		}
		for _, level := range levels {
			if strings.Contains(line, level.tag) {
				logs[i] = strings.Replace(line, level.tag, levelStyle(level.color).Render(level.tag), 1)
				break
			}
		}
	}
	return logs
}
