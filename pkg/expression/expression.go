// Package expression evaluates filename expressions against the properties
// of a polled file.
//
// Expressions use text/template syntax over the property names:
//
//	{{.filename}}.done
//	archive/{{.originalFilename | trimSuffix ".tmp"}}
//	{{.timestamp | date "20060102"}}-{{.filename}}
package expression

import (
	"bytes"
	"fmt"
	"path"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const (
	OriginalFilename = "originalFilename"
	Filename         = "filename"
	FileSize         = "fileSize"
	Timestamp        = "timestamp"
)

// Properties describe a polled file. Map exposes exactly the four named
// entries expressions and message consumers see.
type Properties struct {
	OriginalFilename string
	Filename         string
	FileSize         int64
	Timestamp        time.Time
}

func (p Properties) Map() map[string]any {
	return map[string]any{
		OriginalFilename: p.OriginalFilename,
		Filename:         p.Filename,
		FileSize:         p.FileSize,
		Timestamp:        p.Timestamp,
	}
}

// Expression produces a string from file properties.
type Expression interface {
	Evaluate(props Properties) (string, error)
	String() string
}

type templateExpression struct {
	source string
	tmpl   *template.Template
}

var funcs = template.FuncMap{
	"trimSuffix": func(suffix, s string) string { return strings.TrimSuffix(s, suffix) },
	"trimPrefix": func(prefix, s string) string { return strings.TrimPrefix(s, prefix) },
	"replace":    func(from, to, s string) string { return strings.ReplaceAll(s, from, to) },
	"upper":      strings.ToUpper,
	"lower":      strings.ToLower,
	"base":       path.Base,
	"ext":        path.Ext,
	"stem": func(s string) string {
		return strings.TrimSuffix(s, path.Ext(s))
	},
	"date": func(layout string, t time.Time) string { return t.Format(layout) },
	"unix": func(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) },
}

// Parse compiles src. Referencing an unknown property is an evaluation error.
func Parse(src string) (Expression, error) {
	tmpl, err := template.New("expression").Funcs(funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", src, err)
	}
	return &templateExpression{source: src, tmpl: tmpl}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) Expression {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *templateExpression) Evaluate(props Properties) (string, error) {
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, props.Map()); err != nil {
		return "", fmt.Errorf("evaluate expression %q: %w", e.source, err)
	}
	return buf.String(), nil
}

func (e *templateExpression) String() string { return e.source }

// Literal returns an expression that always evaluates to s.
func Literal(s string) Expression { return literal(s) }

type literal string

func (l literal) Evaluate(Properties) (string, error) { return string(l), nil }
func (l literal) String() string { return string(l) }

// Func adapts a function to Expression.
type Func func(Properties) (string, error)

func (f Func) Evaluate(p Properties) (string, error) { return f(p) }
func (f Func) String() string { return "func" }
