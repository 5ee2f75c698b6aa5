package driver

import (
	"strings"
)

// SelectorKind is the query language of a selector string.
type SelectorKind int

const (
	CSS SelectorKind = iota
	XPath
	Text
)

func (k SelectorKind) String() string {
	switch k {
	case XPath:
		return "xpath"
	case Text:
		return "text"
	default:
		return "css"
	}
}

// Selector is a parsed selector string.
type Selector struct {
	Kind  SelectorKind
	Value string
}

// ParseSelector interprets the selector prefixes: "xpath=" or a leading
// "//" (or "(//") select XPath, "text=" selects by exact normalised text,
// anything else is CSS.
func ParseSelector(s string) Selector {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(trimmed, "xpath="):
		return Selector{Kind: XPath, Value: strings.TrimPrefix(trimmed, "xpath=")}
	case strings.HasPrefix(trimmed, "//"), strings.HasPrefix(trimmed, "(//"):
		return Selector{Kind: XPath, Value: trimmed}
	case strings.HasPrefix(trimmed, "text="):
		return Selector{Kind: Text, Value: normalizeSpace(strings.TrimPrefix(trimmed, "text="))}
	default:
		return Selector{Kind: CSS, Value: trimmed}
	}
}

// XPathExpr returns an XPath expression for XPath and Text selectors. Text
// selectors match the innermost elements whose normalised text equals the
// value.
func (s Selector) XPathExpr() string {
	switch s.Kind {
	case XPath:
		return s.Value
	case Text:
		lit := xpathLiteral(s.Value)
		return "//*[normalize-space(.)=" + lit + "][not(*[normalize-space(.)=" + lit + "])]"
	default:
		return ""
	}
}

// xpathLiteral quotes v for XPath 1.0, which has no escape sequences.
func xpathLiteral(v string) string {
	if !strings.Contains(v, `"`) {
		return `"` + v + `"`
	}
	if !strings.Contains(v, "'") {
		return "'" + v + "'"
	}
	parts := strings.Split(v, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
