// Package tplengine renders the prompt/system/message templates used by
// model-call nodes (anthropic/openai/cloudflare, spec §4.6) with Go's
// text/template plus Masterminds/sprig, standing in for the original
// Python implementation's Handlebars-based renderer.
package tplengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	html_template "html/template"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Format hints how a rendered string should be reinterpreted.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var templateMarker = regexp.MustCompile(`{{.*}}`)

// HasTemplate reports whether s contains a template action at all, so
// callers can skip the engine entirely for plain strings.
func HasTemplate(s string) bool {
	return templateMarker.MatchString(s)
}

// Engine renders named templates against a data context. It is not safe
// for concurrent AddTemplate/Render calls without external synchronization
// beyond what the internal mutex provides for the template set itself.
type Engine struct {
	mu                 sync.RWMutex
	format             Format
	preservePrecision  bool
	templates          map[string]string
	funcs              template.FuncMap
	precisionConverter *PrecisionConverter
}

func NewEngine(format Format) *Engine {
	e := &Engine{
		format:             format,
		templates:          map[string]string{},
		precisionConverter: NewPrecisionConverter(),
	}
	e.funcs = sprig.TxtFuncMap()
	e.funcs["htmlEscape"] = html.EscapeString
	e.funcs["htmlAttrEscape"] = html.EscapeString
	e.funcs["jsEscape"] = html_template.JSEscapeString
	return e
}

func (e *Engine) WithFormat(format Format) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.format = format
	return e
}

func (e *Engine) WithPrecisionPreservation(on bool) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preservePrecision = on
	return e
}

// AddTemplate registers source under name for later Render calls.
func (e *Engine) AddTemplate(name, source string) error {
	if _, err := e.parse(source); err != nil {
		return fmt.Errorf("tplengine: add template %q: %w", name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[name] = source
	return nil
}

// Render executes a previously registered template by name.
func (e *Engine) Render(name string, data any) (string, error) {
	e.mu.RLock()
	source, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tplengine: template not found: %s", name)
	}
	return e.RenderString(source, data)
}

// RenderString compiles and executes source directly, without registration.
func (e *Engine) RenderString(source string, data any) (string, error) {
	if !HasTemplate(source) {
		return source, nil
	}
	tmpl, err := e.parse(source)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("tplengine: execute template: %w", err)
	}
	return buf.String(), nil
}

func (e *Engine) parse(source string) (*template.Template, error) {
	e.mu.RLock()
	funcs := e.funcs
	e.mu.RUnlock()
	return template.New("tpl").Option("missingkey=error").Funcs(funcs).Parse(source)
}

// ProcessString renders source and requires the result to decode back to a
// plain string: on a FormatJSON engine, if the rendered text parses as JSON
// into anything other than a string (map, slice, number, bool), that's
// treated as a caller error, since a string output was expected.
func (e *Engine) ProcessString(source string, data any) (string, error) {
	out, err := e.renderAndProcess(source, data)
	if err != nil {
		return "", err
	}
	s, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("tplengine: failed to parse template string: rendered value is %T, not a string", out)
	}
	return s, nil
}

// renderAndProcess renders source then, for FormatJSON engines, attempts to
// unmarshal the rendered text so downstream callers that need a structured
// value (not JSON-as-string) get one. Other formats, YAML included, return
// the rendered text unchanged.
func (e *Engine) renderAndProcess(source string, data any) (any, error) {
	rendered, err := e.RenderString(source, data)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	format := e.format
	e.mu.RUnlock()
	if format != FormatJSON {
		return rendered, nil
	}
	var out any
	if err := json.Unmarshal([]byte(rendered), &out); err != nil {
		return rendered, nil
	}
	return out, nil
}

// ProcessFile reads path, auto-detecting format from its extension when the
// engine was constructed with an empty format, then renders it.
func (e *Engine) ProcessFile(path string, data any) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("tplengine: failed to read template file %s: %w", path, err)
	}
	e.mu.Lock()
	if e.format == "" {
		e.format = formatFromExt(path)
	}
	e.mu.Unlock()
	return e.RenderString(string(content), data)
}

func formatFromExt(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// ParseAny walks v, rendering every string leaf that contains a template
// against data and recursing into maps/slices, leaving non-string leaves
// untouched. Used to render whole node config trees in one pass.
func (e *Engine) ParseAny(v any, data any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if !HasTemplate(val) {
			return val, nil
		}
		rendered, err := e.RenderString(val, data)
		if err != nil {
			return nil, err
		}
		if e.preservePrecision {
			return e.precisionConverter.ConvertWithPrecision(rendered), nil
		}
		return rendered, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := e.ParseAny(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rv, err := e.ParseAny(item, data)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	default:
		return val, nil
	}
}
