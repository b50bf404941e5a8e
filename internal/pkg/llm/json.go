package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencePattern    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")
)

// RemoveThinkTags 去掉推理模型输出的 <think> 段
func RemoveThinkTags(text string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(text, ""))
}

// UnwrapMarkdownJSON 去掉 ```json 代码块包裹
func UnwrapMarkdownJSON(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// CleanResponse RemoveThinkTags + UnwrapMarkdownJSON
func CleanResponse(text string) string {
	return UnwrapMarkdownJSON(RemoveThinkTags(text))
}

// ParseObject 宽松解析 JSON 对象，失败时返回空 map 而不是报错
func ParseObject(text string) map[string]interface{} {
	obj, ok := TryParseObject(text)
	if !ok {
		return map[string]interface{}{}
	}
	return obj
}

// TryParseObject 同 ParseObject，额外返回是否解析成功
func TryParseObject(text string) (map[string]interface{}, bool) {
	cleaned := CleanResponse(text)
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil && obj != nil {
		return obj, true
	}

	// 模型偶尔在 JSON 前后附带说明文字
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}
