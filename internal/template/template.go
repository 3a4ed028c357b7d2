// Package template renders the mustache-style templates stored in node
// configuration against a run's accumulated context.
//
// Supported forms:
//
//	{{path.to.value}}       HTML-escaped value
//	{{{path.to.value}}}     raw value
//	{{json path}}           pretty-printed JSON, raw
//	{{get path "Key"}}      map lookup with a case-insensitive fallback
//	{{a.[Key With Spaces]}} bracketed path segment
//	{{! comment}}           removed
//
// Missing paths render as the empty string. A template with an unclosed
// expression is returned unchanged.
package template

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Renderer renders templates. The zero value escapes HTML like the default
// renderer returned by New.
type Renderer struct {
	noEscape bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithoutEscaping makes double-brace expressions render raw.
func WithoutEscaping() Option {
	return func(r *Renderer) { r.noEscape = true }
}

// New creates a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, o := range opts {
		o(r)
	}
	return r
}

var defaultRenderer = New()

// Render renders tpl with the default escaping renderer.
func Render(tpl string, data map[string]any) string {
	return defaultRenderer.Render(tpl, data)
}

// Render substitutes every expression in tpl with its value from data.
func (r *Renderer) Render(tpl string, data map[string]any) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}

	var out strings.Builder
	out.Grow(len(tpl))

	i := 0
	for i < len(tpl) {
		idx := strings.Index(tpl[i:], "{{")
		if idx == -1 {
			out.WriteString(tpl[i:])
			break
		}
		out.WriteString(tpl[i : i+idx])
		start := i + idx

		raw := strings.HasPrefix(tpl[start:], "{{{")
		open, close := "{{", "}}"
		if raw {
			open, close = "{{{", "}}}"
		}

		end := strings.Index(tpl[start+len(open):], close)
		if end == -1 {
			return tpl
		}
		exprStart := start + len(open)
		expr := strings.TrimSpace(tpl[exprStart : exprStart+end])
		i = exprStart + end + len(close)

		if strings.HasPrefix(expr, "!") {
			continue
		}
		val, safe := r.eval(expr, data)
		if raw || safe || r.noEscape {
			out.WriteString(val)
		} else {
			out.WriteString(escapeHTML(val))
		}
	}
	return out.String()
}

// eval resolves a single expression. safe reports whether the helper output
// must not be escaped.
func (r *Renderer) eval(expr string, data map[string]any) (val string, safe bool) {
	args := splitArgs(expr)
	if len(args) == 0 {
		return "", false
	}

	switch args[0] {
	case "json":
		if len(args) < 2 {
			return "", true
		}
		v, ok := Resolve(data, args[1])
		if !ok {
			return "", true
		}
		return stringifyJSON(v), true
	case "get":
		if len(args) < 3 {
			return "", false
		}
		obj, ok := Resolve(data, args[1])
		if !ok {
			return "", false
		}
		v, ok := lookupKey(obj, unquote(args[2]))
		if !ok {
			return "", false
		}
		return Stringify(v), false
	}

	v, ok := Resolve(data, args[0])
	if !ok {
		return "", false
	}
	return Stringify(v), false
}

// Resolve walks a dotted path through nested maps and slices. Segments may
// be bracketed (a.[Some Key]) and numeric segments index into slices. Map
// keys fall back to a case-insensitive match.
func Resolve(data map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(strings.TrimPrefix(path, "this."), "./")
	if path == "this" || path == "." {
		return data, true
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	var cur any = data
	for _, seg := range splitPath(path) {
		if seg == "" {
			return nil, false
		}
		next, ok := lookupKey(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func lookupKey(obj any, key string) (any, bool) {
	switch v := obj.(type) {
	case map[string]any:
		if val, ok := v[key]; ok {
			return val, true
		}
		for k, val := range v {
			if strings.EqualFold(k, key) {
				return val, true
			}
		}
	case []any:
		idx, err := strconv.Atoi(key)
		if err == nil && idx >= 0 && idx < len(v) {
			return v[idx], true
		}
	}
	return nil, false
}

// splitPath splits on dots outside of brackets.
func splitPath(path string) []string {
	var segs []string
	var cur strings.Builder
	depth := 0
	for _, r := range path {
		switch {
		case r == '[':
			depth++
			if depth == 1 {
				continue
			}
		case r == ']':
			depth--
			if depth == 0 {
				continue
			}
		case r == '.' && depth == 0:
			segs = append(segs, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	segs = append(segs, cur.String())
	return segs
}

// splitArgs splits a helper invocation on whitespace, keeping quoted and
// bracketed arguments intact.
func splitArgs(expr string) []string {
	var args []string
	var cur strings.Builder
	var quote rune
	depth := 0
	for _, r := range expr {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case (r == ' ' || r == '\t' || r == '\n') && depth == 0:
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Stringify converts a resolved value to its inline text form. Objects are
// rendered as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = Stringify(e)
		}
		return strings.Join(parts, ",")
	default:
		b, err := marshal(t, "")
		if err != nil {
			return ""
		}
		return b
	}
}

func stringifyJSON(v any) string {
	s, err := marshal(v, "  ")
	if err != nil {
		return ""
	}
	return s
}

func marshal(v any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"`", "&#x60;",
	"=", "&#x3D;",
)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
