package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 123 -> "123"、"1" -> int 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

// DecodeJSON 把任意 JSON 负载解码到结构体 T，字段读取使用 `json` tag。
// 未知字段忽略，客户端可以在负载里携带任意额外字段。
func DecodeJSON[T any](raw []byte, opts ...Options) (*T, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return DecodeValue[T](v, opts...)
}

// DecodeValue 把 json.Unmarshal 得到的动态值解码到 T。
func DecodeValue[T any](v any, opts ...Options) (*T, error) {
	if v == nil {
		return nil, fmt.Errorf("payload is null")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			refToIDHook(),
			floatToIntHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// ReadString 读取一个标量负载（如房间号），数字或 {"_id": ...} 引用也接受。
func ReadString(raw []byte) (string, error) {
	s, err := DecodeJSON[string](raw)
	if err != nil {
		return "", err
	}
	if *s == "" {
		return "", fmt.Errorf("payload is an empty string")
	}
	return *s, nil
}

// -----------------------------
// Decode Hooks
// -----------------------------

// refToIDHook：目标是 string、来源是带 "_id" 的对象时，取出 "_id"
// （客户端常把已填充的引用对象原样发上来）。
func refToIDHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Map || to != reflect.String {
			return data, nil
		}
		m, ok := data.(map[string]any)
		if !ok {
			return data, nil
		}
		if id, ok := m["_id"]; ok && id != nil {
			return id, nil
		}
		return data, nil
	}
}

// floatToIntHook：把 float64 自动转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}
