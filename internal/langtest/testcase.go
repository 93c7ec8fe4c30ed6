// Package langtest extracts end-to-end compiler test cases from
// Markdown documents. A case is a heading "## Test: name" followed by
// a `hygge` source fence and optional `output`, `trace`, `exit` and
// `input` fences.
package langtest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TestCase is one compiled-and-executed scenario.
type TestCase struct {
	Name   string
	Source string
	Output string   // expected stdout, "" if unasserted
	HasOut bool
	Trace  []string // expected host-call trace, nil if unasserted
	Exit   int      // expected _start exit code
	Input  []string // tokens for readInt/readFloat
}

// ExtractTestCases parses a Markdown document and collects its cases.
func ExtractTestCases(markdown []byte) ([]TestCase, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(markdown))

	var cases []TestCase
	var current *TestCase

	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Heading:
			heading := extractText(n, markdown)
			if !strings.HasPrefix(heading, "Test: ") {
				return ast.WalkContinue, nil
			}
			if current != nil {
				if err := validate(current); err != nil {
					return ast.WalkStop, err
				}
				cases = append(cases, *current)
			}
			current = &TestCase{Name: strings.TrimPrefix(heading, "Test: ")}
		case *ast.FencedCodeBlock:
			language := string(n.Language(markdown))
			if current == nil || language == "" {
				return ast.WalkContinue, nil
			}
			content := fenceContent(n, markdown)
			switch language {
			case "hygge":
				if current.Source != "" {
					return ast.WalkStop, fmt.Errorf("test %q has more than one source fence", current.Name)
				}
				current.Source = content
			case "output":
				current.Output = content
				current.HasOut = true
			case "trace":
				for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
					if line = strings.TrimSpace(line); line != "" {
						current.Trace = append(current.Trace, line)
					}
				}
			case "exit":
				code, err := strconv.Atoi(strings.TrimSpace(content))
				if err != nil {
					return ast.WalkStop, fmt.Errorf("test %q: bad exit fence: %w", current.Name, err)
				}
				current.Exit = code
			case "input":
				current.Input = strings.Fields(content)
			default:
				return ast.WalkStop, fmt.Errorf("test %q: unknown fence language %q", current.Name, language)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if current != nil {
		if err := validate(current); err != nil {
			return nil, err
		}
		cases = append(cases, *current)
	}
	return cases, nil
}

func validate(tc *TestCase) error {
	if strings.TrimSpace(tc.Source) == "" {
		return fmt.Errorf("test %q has no hygge source fence", tc.Name)
	}
	return nil
}

func extractText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := n.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func fenceContent(block *ast.FencedCodeBlock, source []byte) string {
	var buf bytes.Buffer
	for i := 0; i < block.Lines().Len(); i++ {
		line := block.Lines().At(i)
		buf.Write(line.Value(source))
	}
	return buf.String()
}
