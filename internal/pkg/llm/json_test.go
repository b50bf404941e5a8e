package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"think tags", "<think>先想想\n再说</think>\n{\"a\":1}", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"both", "<think>x</think>```json\n{\"a\":1}\n```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanResponse(tt.in))
		})
	}
}

func TestParseObject(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		obj := ParseObject("```json\n{\"summary\":\"s\",\"key_events\":[\"a\"]}\n```")
		assert.Equal(t, "s", obj["summary"])
		assert.Len(t, obj["key_events"], 1)
	})

	t.Run("surrounding prose", func(t *testing.T) {
		obj, ok := TryParseObject("结果如下：{\"title\":\"风起\"} 以上")
		assert.True(t, ok)
		assert.Equal(t, "风起", obj["title"])
	})

	t.Run("malformed yields empty map", func(t *testing.T) {
		obj := ParseObject("not json {")
		assert.NotNil(t, obj)
		assert.Empty(t, obj)
	})

	t.Run("array is not an object", func(t *testing.T) {
		_, ok := TryParseObject(`[1,2]`)
		assert.False(t, ok)
	})
}
