// Package icons swaps icon placeholders in rendered pages for inline SVG.
package icons

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/wolfman30/course-checkout/pkg/logging"
)

// Replacer rewrites icon placeholders in an HTML document. Implementations
// never fail: on any problem they return the input unchanged.
type Replacer interface {
	Replace(doc []byte) []byte
}

// ReplacerFunc adapts a func to Replacer.
type ReplacerFunc func(doc []byte) []byte

func (f ReplacerFunc) Replace(doc []byte) []byte { return f(doc) }

// Nop leaves documents untouched.
var Nop Replacer = ReplacerFunc(func(doc []byte) []byte { return doc })

const placeholderAttr = "data-feather"

var featherPaths = map[string]string{
	"clock":        `<circle cx="12" cy="12" r="10"></circle><polyline points="12 6 12 12 16 14"></polyline>`,
	"check-circle": `<path d="M22 11.08V12a10 10 0 1 1-5.93-9.14"></path><polyline points="22 4 12 14.01 9 11.01"></polyline>`,
	"lock":         `<rect x="3" y="11" width="18" height="11" rx="2" ry="2"></rect><path d="M7 11V7a5 5 0 0 1 10 0v4"></path>`,
	"user":         `<path d="M20 21v-2a4 4 0 0 0-4-4H8a4 4 0 0 0-4 4v2"></path><circle cx="12" cy="7" r="4"></circle>`,
	"arrow-right":  `<line x1="5" y1="12" x2="19" y2="12"></line><polyline points="12 5 19 12 12 19"></polyline>`,
	"credit-card":  `<rect x="1" y="4" width="22" height="16" rx="2" ry="2"></rect><line x1="1" y1="10" x2="23" y2="10"></line>`,
	"shield":       `<path d="M12 22s8-4 8-10V5l-8-3-8 3v7c0 6 8 10 8 10z"></path>`,
	"smartphone":   `<rect x="5" y="2" width="14" height="20" rx="2" ry="2"></rect><line x1="12" y1="18" x2="12.01" y2="18"></line>`,
}

// FeatherReplacer replaces <i data-feather="name"></i> placeholders with the
// matching Feather icon.
type FeatherReplacer struct {
	logger *logging.Logger
}

func NewFeatherReplacer(logger *logging.Logger) *FeatherReplacer {
	if logger == nil {
		logger = logging.Default()
	}
	return &FeatherReplacer{logger: logger}
}

// Known reports whether name has an inline SVG.
func Known(name string) bool {
	_, ok := featherPaths[name]
	return ok
}

func (r *FeatherReplacer) Replace(doc []byte) []byte {
	out, replaced, err := replaceFeather(doc)
	if err != nil {
		r.logger.Debug("icon replacement skipped", "error", err)
		return doc
	}
	r.logger.Debug("icons replaced", "count", replaced)
	return out
}

func replaceFeather(doc []byte) ([]byte, int, error) {
	z := html.NewTokenizer(bytes.NewReader(doc))
	var buf bytes.Buffer
	buf.Grow(len(doc))

	replaced := 0
	skipDepth := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return buf.Bytes(), replaced, nil
			}
			return nil, replaced, z.Err()
		}
		raw := append([]byte(nil), z.Raw()...)
		tok := z.Token()

		if skipDepth > 0 {
			switch {
			case tt == html.StartTagToken && tok.Data == "i":
				skipDepth++
			case tt == html.EndTagToken && tok.Data == "i":
				skipDepth--
			}
			continue
		}

		if (tt == html.StartTagToken || tt == html.SelfClosingTagToken) && tok.Data == "i" {
			if name, class, ok := placeholder(tok); ok {
				buf.WriteString(svgFor(name, class))
				replaced++
				if tt == html.StartTagToken {
					skipDepth = 1
				}
				continue
			}
		}
		buf.Write(raw)
	}
}

func placeholder(tok html.Token) (name, class string, ok bool) {
	for _, attr := range tok.Attr {
		switch attr.Key {
		case placeholderAttr:
			name = strings.TrimSpace(attr.Val)
		case "class":
			class = strings.TrimSpace(attr.Val)
		}
	}
	if !Known(name) {
		return "", "", false
	}
	return name, class, true
}

func svgFor(name, class string) string {
	classes := "feather feather-" + name
	if class != "" {
		classes += " " + class
	}
	return `<svg xmlns="http://www.w3.org/2000/svg" width="24" height="24" viewBox="0 0 24 24" fill="none" ` +
		`stroke="currentColor" stroke-width="2" stroke-linecap="round" stroke-linejoin="round" class="` +
		html.EscapeString(classes) + `">` + featherPaths[name] + `</svg>`
}
