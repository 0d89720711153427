package ui

import (
	"regexp"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	gomarkdown "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
)

const (
	codeBar   = "┃"
	darkGray  = "\x1b[90m"
	red       = "\x1b[31m"
	ansiReset = "\x1b[0m"
	minWidth  = 20
)

var (
	inlineCodeRegex = regexp.MustCompile(`(?s)\x1b\[44;3m(.*?)\x1b\[0m`)
	mdLinkRegex     = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\)]+)\)`)
	urlRegex        = regexp.MustCompile(`(https?://[^\s]+)`)
)

// RenderMarkdown renders message content for a terminal of the given width.
// Links are flattened to plain URLs so the terminal can detect them, and
// fenced code is framed between horizontal rules.
func RenderMarkdown(content string, width int) string {
	if width < minWidth {
		width = minWidth
	}

	content = preprocessLinks(content)

	// Autolink stays off so URLs remain plain text.
	p := parser.NewWithExtensions(markdown.Extensions() &^ parser.Autolink)
	r := markdown.NewRenderer(width-4, 0)
	rendered := gomarkdown.Render(p.Parse([]byte(content)), r)

	return postProcessMarkdown(string(rendered), width)
}

func postProcessMarkdown(rendered string, width int) string {
	rendered = fixInlineCode(rendered)
	rendered = colorURLs(rendered)
	rendered = frameCodeBlocks(rendered, width)
	return strings.TrimRight(rendered, "\n")
}

// preprocessLinks turns [text](url) into url.
func preprocessLinks(content string) string {
	return mdLinkRegex.ReplaceAllString(content, "$2")
}

// fixInlineCode swaps the renderer's blue-background italics for red text.
func fixInlineCode(s string) string {
	return inlineCodeRegex.ReplaceAllString(s, red+"$1"+ansiReset)
}

func colorURLs(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if !strings.Contains(line, codeBar) {
			lines[i] = urlRegex.ReplaceAllString(line, red+"$1"+ansiReset)
		}
	}
	return strings.Join(lines, "\n")
}

func frameCodeBlocks(s string, width int) string {
	var (
		result []string
		block  []string
		inCode bool
	)
	ruleWidth := width - 4

	closeBlock := func() {
		result = append(result, block...)
		result = append(result, "", darkGray+strings.Repeat("━", ruleWidth)+ansiReset, "")
		block = nil
		inCode = false
	}

	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, codeBar) {
			if !inCode {
				inCode = true
				label := "[code]"
				left := (ruleWidth - len(label)) / 2
				right := ruleWidth - len(label) - left
				result = append(result, "",
					darkGray+strings.Repeat("━", left)+ansiReset+label+darkGray+strings.Repeat("━", right)+ansiReset,
					"")
			}
			block = append(block, stripCodeBar(line))
			continue
		}
		if inCode {
			closeBlock()
		}
		result = append(result, line)
	}
	if inCode {
		closeBlock()
	}

	return strings.Join(result, "\n")
}

func stripCodeBar(line string) string {
	idx := strings.Index(line, codeBar)
	if idx < 0 {
		return line
	}
	rest := line[idx+len(codeBar):]
	return strings.TrimPrefix(rest, " ")
}

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
