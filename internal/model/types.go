package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}
	return scanJSON(value, s)
}

// JSONMap 用于 JSON 对象字段（蓝图、生成配置、分析结果等）
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	return scanJSON(value, m)
}

// Map 读取嵌套对象，不存在时返回空 map
func (m JSONMap) Map(key string) JSONMap {
	if m == nil {
		return JSONMap{}
	}
	if v, ok := m[key].(map[string]interface{}); ok {
		return JSONMap(v)
	}
	if v, ok := m[key].(JSONMap); ok {
		return v
	}
	return JSONMap{}
}

// Bool 读取布尔值，不存在或类型不符时返回 def
func (m JSONMap) Bool(key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

// Int 读取整数值（JSON 数字解码为 float64）
func (m JSONMap) Int(key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// Float 读取浮点值
func (m JSONMap) Float(key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// String 读取字符串值
func (m JSONMap) String(key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

// FallbackConfig 备用供应商 + 模型
type FallbackConfig struct {
	ProviderID int64  `json:"provider_id"`
	Model      string `json:"model"`
}

// FallbackConfigs 按顺序尝试的备用列表
type FallbackConfigs []FallbackConfig

func (f FallbackConfigs) Value() (driver.Value, error) {
	if f == nil {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (f *FallbackConfigs) Scan(value interface{}) error {
	if value == nil {
		*f = FallbackConfigs{}
		return nil
	}
	return scanJSON(value, f)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}
