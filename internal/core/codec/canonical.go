package codec

import (
	"bytes"
	"encoding/json"
)

// orderedField 是规范序列化中的一个顶层字段：键的顺序由调用方固定给出。
// content 字段的值是 json.RawMessage，其 MarshalJSON 原样返回输入字节，
// 所以 json.MarshalIndent 只重新格式化空白（压缩后按两空格缩进重排），
// 不会解析成 map 再重新序列化——对端写入时的键顺序被逐字保留。其余字段
// 都是标量（string/int64/*string），不存在键顺序的问题。
type orderedField struct {
	key   string
	value interface{}
}

// encodeCanonical 按两空格缩进渲染一组顶层字段，顺序与传入的 fields 一致。
func encodeCanonical(fields []orderedField) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, f := range fields {
		valBytes, err := json.MarshalIndent(f.value, "  ", "  ")
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		keyBytes, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteString(": ")
		buf.Write(valBytes)
		if i != len(fields)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}
