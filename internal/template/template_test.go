package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() map[string]any {
	return map[string]any{
		"telegram": map[string]any{
			"message": map[string]any{"text": "hello", "chat": map[string]any{"id": 42.0}},
		},
		"ai":     map[string]any{"text": "Tom & Jerry <3"},
		"form":   map[string]any{"responses": map[string]any{"Your Name": "Ada"}},
		"items":  []any{"a", "b", map[string]any{"x": 1.0}},
		"flag":   true,
		"amount": 12.5,
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"no expressions", "plain text", "plain text"},
		{"nested path", "got {{telegram.message.text}}", "got hello"},
		{"integral number", "chat {{telegram.message.chat.id}}", "chat 42"},
		{"float and bool", "{{amount}} {{flag}}", "12.5 true"},
		{"missing path is empty", "[{{nope.nothing}}]", "[]"},
		{"escaped by default", "{{ai.text}}", "Tom &amp; Jerry &lt;3"},
		{"triple stash is raw", "{{{ai.text}}}", "Tom & Jerry <3"},
		{"bracket segment", "{{form.responses.[Your Name]}}", "Ada"},
		{"array index", "{{items.1}}", "b"},
		{"case-insensitive key", "{{TELEGRAM.Message.text}}", "hello"},
		{"get helper", `{{get form.responses "your name"}}`, "Ada"},
		{"comment removed", "a{{! ignore me }}b", "ab"},
		{"unclosed returns template", "hi {{telegram.message.text", "hi {{telegram.message.text"},
		{"whitespace in braces", "{{  telegram.message.text  }}", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tpl, sample()))
		})
	}
}

func TestRender_JSONHelper(t *testing.T) {
	out := Render(`{"payload": {{json telegram.message.chat}}}`, sample())
	assert.Equal(t, "{\"payload\": {\n  \"id\": 42\n}}", out)

	assert.Equal(t, "x=", Render("x={{json missing}}", sample()))
}

func TestRender_ObjectsAsCompactJSON(t *testing.T) {
	assert.Equal(t, `{"id":42}`, New(WithoutEscaping()).Render("{{telegram.message.chat}}", sample()))
}

func TestRender_NilData(t *testing.T) {
	assert.Equal(t, "x", Render("x{{a}}", nil))
}

func TestResolve(t *testing.T) {
	v, ok := Resolve(sample(), "items.2.x")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = Resolve(sample(), "items.9")
	assert.False(t, ok)

	_, ok = Resolve(sample(), "flag.deeper")
	assert.False(t, ok)
}
