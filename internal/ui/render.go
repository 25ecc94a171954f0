package ui

import (
	"fmt"
	"strings"
)

// RenderPanel draws a titled box with "label: value" lines
func RenderPanel(title string, lines [][2]string) string {
	width := Width()

	var sb strings.Builder

	titleText := " " + title + " "
	leftDashes := 3
	rightDashes := width - 2 - leftDashes - visibleLength(titleText)
	if rightDashes < 0 {
		rightDashes = 0
	}

	sb.WriteString(Color(Cyan, BoxTopLeft+strings.Repeat(BoxHorizontal, leftDashes)))
	sb.WriteString(Color(Cyan+Bold, titleText))
	sb.WriteString(Color(Cyan, strings.Repeat(BoxHorizontal, rightDashes)+BoxTopRight))
	sb.WriteString("\n")

	for _, line := range lines {
		sb.WriteString(formatInfoLine(line[0], line[1], width))
	}

	sb.WriteString(Color(Cyan, BoxBottomLeft+strings.Repeat(BoxHorizontal, width-2)+BoxBottomRight))
	sb.WriteString("\n")
	return sb.String()
}

func formatInfoLine(label, value string, width int) string {
	var sb strings.Builder

	visibleLen := visibleLength(label) + visibleLength(value) + 3 // " label: value"
	padding := width - 2 - visibleLen
	if padding < 0 {
		padding = 0
	}

	sb.WriteString(Color(Cyan, BoxVertical))
	sb.WriteString(" ")
	sb.WriteString(Color(Dim, label+":"))
	sb.WriteString(" ")
	sb.WriteString(value)
	sb.WriteString(strings.Repeat(" ", padding))
	sb.WriteString(Color(Cyan, BoxVertical))
	sb.WriteString("\n")

	return sb.String()
}

// RenderTable aligns rows under a bold header. Cells may contain color codes.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visibleLength(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := visibleLength(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string, style string) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if style != "" {
				cell = Color(style, cell)
			}
			sb.WriteString("  ")
			sb.WriteString(cell)
			if i < len(widths)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-visibleLength(cell)))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers, Bold)
	for _, row := range rows {
		writeRow(row, "")
	}
	return sb.String()
}

// visibleLength returns the visible length of a string, ignoring ANSI codes
func visibleLength(s string) int {
	inEscape := false
	visible := 0
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		visible++
	}
	return visible
}

// RenderError formats an error message
func RenderError(err error) string {
	return Color(Red, fmt.Sprintf("Error: %v", err))
}

// RenderWarning formats a warning line
func RenderWarning(msg string) string {
	return Color(Yellow, msg)
}

// RenderSuccess formats a success message
func RenderSuccess(msg string) string {
	return Color(Green, msg)
}

// RenderDim formats text in dim style
func RenderDim(msg string) string {
	return Color(Dim, msg)
}
