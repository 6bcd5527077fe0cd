package tplengine

import (
	"html"
	html_template "html/template"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTemplate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"no_markers", "plain text", false},
		{"with_delims", "Hello {{ .name }}", true},
		{"with_trim_marker", "Hello {{- .name -}}", true},
		{"brace_like_not_template", "Hello {not tmpl}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasTemplate(tt.in))
		})
	}
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(FormatText)
	require.NotNil(t, e)
	e = e.WithFormat(FormatJSON).WithPrecisionPreservation(true)
	out, err := e.RenderString("no templates here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no templates here", out)
}

func TestAddTemplateAndRenderBasic(t *testing.T) {
	e := NewEngine(FormatText)
	require.NoError(t, e.AddTemplate("hello", "Hello {{ .name }}"))
	got, err := e.Render("hello", map[string]any{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", got)
}

func TestAddTemplateMissingKeyErrorsOnExecute(t *testing.T) {
	e := NewEngine(FormatText)
	require.NoError(t, e.AddTemplate("needs_name", "Hi {{ .name }}"))
	_, err := e.Render("needs_name", map[string]any{})
	require.Error(t, err)
}

func TestRenderTemplateNotFound(t *testing.T) {
	e := NewEngine(FormatText)
	_, err := e.Render("not-there", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template not found")
}

func TestRenderStringHTMLSafetyFuncs(t *testing.T) {
	e := NewEngine(FormatText)
	in := `<script>alert("x")</script>`
	esc := html.EscapeString(in)
	jesc := html_template.JSEscapeString(in)

	out, err := e.RenderString(`{{ .val | htmlEscape }}`, map[string]any{"val": in})
	require.NoError(t, err)
	assert.Equal(t, esc, out)

	out, err = e.RenderString(`{{ .val | htmlAttrEscape }}`, map[string]any{"val": in})
	require.NoError(t, err)
	assert.Equal(t, esc, out)

	out, err = e.RenderString(`{{ .val | jsEscape }}`, map[string]any{"val": in})
	require.NoError(t, err)
	assert.Equal(t, jesc, out)
}

func TestRenderStringSprigFunctionAvailable(t *testing.T) {
	e := NewEngine(FormatText)
	out, err := e.RenderString(`{{ "hello" | upper }}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestRenderStringHyphenatedKeys(t *testing.T) {
	e := NewEngine(FormatText)
	tmpl := `Hi {{ (index . "user-name").first_name }}, id={{ (index . "user-name").id }}`
	ctx := map[string]any{
		"user-name": map[string]any{
			"first_name": "Ada",
			"id":         42,
		},
	}
	out, err := e.RenderString(tmpl, ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, id=42", out)
}

func TestProcessStringSuccessAndNonStringResult(t *testing.T) {
	e := NewEngine(FormatText)
	out, err := e.ProcessString("Hello {{ .who }}", map[string]any{"who": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out)

	jsonEngine := NewEngine(FormatJSON)
	_, err = jsonEngine.ProcessString(`{{ "{\"a\":1}" }}`, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template string")
}

func TestProcessFileDetectsFormatAndProcesses(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "x.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("Val: {{ .v }}"), 0o600))

	e := NewEngine("")
	got, err := e.ProcessFile(yamlPath, map[string]any{"v": 7})
	require.NoError(t, err)
	assert.Equal(t, "Val: 7", got)
	assert.Equal(t, FormatYAML, e.format)

	_, err = e.ProcessFile(filepath.Join(dir, "missing.json"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read template file")
}

func TestParseAnyTypes(t *testing.T) {
	e := NewEngine(FormatText)

	v, err := e.ParseAny(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = e.ParseAny("abc", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	inArr := []any{"x {{ .y }}", 2}
	outArr, err := e.ParseAny(inArr, map[string]any{"y": "Y"})
	require.NoError(t, err)
	arr, ok := outArr.([]any)
	require.True(t, ok)
	require.Len(t, arr, 2)
	assert.Equal(t, "x Y", arr[0])
	assert.Equal(t, 2, arr[1])

	inMap := map[string]any{"a": "hi {{ .b }}", "c": 3}
	outMapVal, err := e.ParseAny(inMap, map[string]any{"b": "B"})
	require.NoError(t, err)
	outMap, ok := outMapVal.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi B", outMap["a"])
	assert.Equal(t, 3, outMap["c"])
}

func TestPrecisionConverterConvertWithPrecision(t *testing.T) {
	pc := NewPrecisionConverter()

	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"max safe integer plus one", "9007199254740992", "9007199254740992"},
		{"very large integer", "123456789012345678901234567890", "123456789012345678901234567890"},
		{"normal int64", "123456789", int64(123456789)},
		{"high precision decimal", "0.123456789123456789", "0.123456789123456789"},
		{"normal float64", "123.456", float64(123.456)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, pc.ConvertWithPrecision(tt.input))
		})
	}
}

func TestTemplateEngineXSSPrevention(t *testing.T) {
	t.Run("escapes html in template output", func(t *testing.T) {
		engine := NewEngine(FormatText)
		context := map[string]any{"userInput": `<script>alert('XSS')</script>`}
		result, err := engine.RenderString(`<div>{{ .userInput | htmlEscape }}</div>`, context)
		require.NoError(t, err)
		assert.Equal(t, `<div>&lt;script&gt;alert(&#39;XSS&#39;)&lt;/script&gt;</div>`, result)
	})

	t.Run("escapes html attributes", func(t *testing.T) {
		engine := NewEngine(FormatText)
		context := map[string]any{"userInput": `" onclick="alert('XSS')`}
		result, err := engine.RenderString(`<input value="{{ .userInput | htmlAttrEscape }}">`, context)
		require.NoError(t, err)
		assert.Equal(t, `<input value="&#34; onclick=&#34;alert(&#39;XSS&#39;)">`, result)
	})
}

func TestRenderStringBooleanPreserved(t *testing.T) {
	e := NewEngine(FormatText)
	out, err := e.RenderString(`{{ eq 1 1 }}`, nil)
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(out, "true"))
}
