// Package render implements the variable-driven subject/body renderer used by
// the delivery pipeline, with autoescaping conditional on channel the same
// way the source engine toggles HTML/XML escaping per content type.
package render

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"
	"unicode"

	"github.com/bakerapps/notifyd/internal/models"
)

// MissingVariablesError is returned when one or more variables declared as
// required by a template are absent from the supplied variable map.
type MissingVariablesError struct {
	Missing []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing required template variables: %s", strings.Join(e.Missing, ", "))
}

// Render validates that tmpl's declared variables are all present in vars,
// then renders subject and body, substituting variables and applying the
// currency/format_date filters. Email templates render with HTML escaping;
// every other channel renders as plain text.
func Render(tmpl *models.Template, vars map[string]interface{}) (*models.RenderedContent, error) {
	if missing := missingVariables(tmpl.Variables, vars); len(missing) > 0 {
		return nil, &MissingVariablesError{Missing: missing}
	}

	subject, err := renderString(tmpl.Content.Subject, vars, tmpl.Channel)
	if err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	body, err := renderString(tmpl.Content.Body, vars, tmpl.Channel)
	if err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}

	return &models.RenderedContent{Subject: subject, Body: body}, nil
}

func missingVariables(required []string, vars map[string]interface{}) []string {
	var missing []string
	for _, name := range required {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func renderString(src string, vars map[string]interface{}, channel models.Channel) (string, error) {
	if src == "" {
		return "", nil
	}

	src = rewritePlaceholders(src)

	var buf bytes.Buffer
	if channel == models.ChannelEmail {
		t, err := htmltemplate.New("tmpl").Funcs(htmltemplate.FuncMap(filterFuncs())).Option("missingkey=error").Parse(src)
		if err != nil {
			return "", err
		}
		if err := t.Execute(&buf, vars); err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	t, err := texttemplate.New("tmpl").Funcs(texttemplate.FuncMap(filterFuncs())).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", err
	}
	if err := t.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func filterFuncs() map[string]interface{} {
	return map[string]interface{}{
		"currency":    currency,
		"format_date": formatDate,
	}
}

// templateBareWords are identifiers that must not be dot-prefixed when they
// appear bare inside an action: Go template control keywords/builtins and the
// filter function names, since those are calls, not variable references.
var templateBareWords = map[string]bool{
	"if": true, "else": true, "end": true, "range": true, "with": true,
	"define": true, "block": true, "template": true,
	"nil": true, "true": true, "false": true,
	"and": true, "or": true, "not": true,
	"eq": true, "ne": true, "lt": true, "le": true, "gt": true, "ge": true,
	"len": true, "index": true, "print": true, "printf": true, "println": true,
	"currency": true, "format_date": true,
}

// rewritePlaceholders rewrites the documented `{{ var }}` placeholder syntax
// into Go template's dot-prefixed `{{ .var }}` field access, so templates
// written in the spec's bare-identifier grammar parse and execute correctly.
// References already written as `.var`, quoted filter arguments, numeric
// literals and template keywords pass through untouched.
func rewritePlaceholders(src string) string {
	var out strings.Builder
	i := 0
	for i < len(src) {
		start := strings.Index(src[i:], "{{")
		if start < 0 {
			out.WriteString(src[i:])
			break
		}
		start += i
		end := strings.Index(src[start:], "}}")
		if end < 0 {
			out.WriteString(src[i:])
			break
		}
		end += start + 2

		out.WriteString(src[i:start])
		out.WriteString(rewriteAction(src[start:end]))
		i = end
	}
	return out.String()
}

func rewriteAction(action string) string {
	inner := action[2 : len(action)-2]
	var out strings.Builder
	out.WriteString("{{")

	i := 0
	for i < len(inner) {
		c := inner[i]
		switch {
		case c == '"' || c == '\'' || c == '`':
			j := i + 1
			for j < len(inner) && inner[j] != c {
				if inner[j] == '\\' && c != '`' {
					j++
				}
				j++
			}
			if j < len(inner) {
				j++
			}
			out.WriteString(inner[i:j])
			i = j
		case c == '.':
			j := i + 1
			for j < len(inner) && isIdentPart(rune(inner[j])) {
				j++
			}
			out.WriteString(inner[i:j])
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(inner) && isIdentPart(rune(inner[j])) {
				j++
			}
			word := inner[i:j]
			if templateBareWords[word] {
				out.WriteString(word)
			} else {
				out.WriteByte('.')
				out.WriteString(word)
			}
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}

	out.WriteString("}}")
	return out.String()
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// currency renders amount as "{symbol}{amount:,.{places}f}", falling back to
// a bare string conversion when amount cannot be parsed as a number.
func currency(amount interface{}, symbol string, places int) string {
	f, ok := toFloat(amount)
	if !ok {
		return fmt.Sprintf("%s%v", symbol, amount)
	}
	return symbol + formatThousands(f, places)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// formatThousands formats f with the given decimal places and thousands
// separators, mirroring Python's "{:,.Nf}" format spec.
func formatThousands(f float64, places int) string {
	s := strconv.FormatFloat(f, 'f', places, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart = s[:dot]
		fracPart = s[dot:]
	}

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	out := grouped.String() + fracPart
	if neg {
		out = "-" + out
	}
	return out
}

// formatDate renders value using a strftime-style format string, converted to
// Go's reference-time layout. Non-time values render via their string form.
func formatDate(value interface{}, format string) string {
	if format == "" {
		format = "%Y-%m-%d"
	}

	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return fmt.Sprintf("%v", value)
		}
		t = *v
	default:
		return fmt.Sprintf("%v", value)
	}

	return t.Format(strftimeToGoLayout(format))
}

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'B': "January",
	'b': "Jan",
	'A': "Monday",
	'a': "Mon",
	'p': "PM",
	'Z': "MST",
	'z': "-0700",
}

// strftimeToGoLayout converts a Python strftime format string (e.g.
// "%Y-%m-%d") into a Go reference-time layout (e.g. "2006-01-02").
func strftimeToGoLayout(format string) string {
	var out strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			if layout, ok := strftimeDirectives[format[i+1]]; ok {
				out.WriteString(layout)
				i++
				continue
			}
		}
		out.WriteByte(format[i])
	}
	return out.String()
}
