package task

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	xerrors "ElizaDID/internal/errors"
)

// MessageDelimiter 分隔类型标签与 payload，合法类型标签中不会出现该字符。
const MessageDelimiter = ':'

// CanonicalMessage 生成签名方与验签方都能独立复现的规范消息：
// 类型标签 + ":" + payload 的规范 JSON。
//
// 规范 JSON 的规则：对象键按 UTF-8 字节序排序、无多余空白、不做 HTML 转义；
// 整数使用十进制整数形式，其余浮点数使用 ECMAScript 的最短表示；
// NaN 与 Inf 不允许出现。
func CanonicalMessage(t Type, payload map[string]any) ([]byte, error) {
	if err := ValidateType(t); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(string(t))
	buf.WriteByte(MessageDelimiter)
	if payload == nil {
		payload = map[string]any{}
	}
	if err := writeCanonical(&buf, payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法生成规范消息")
	}
	return buf.Bytes(), nil
}

// CanonicalJSON 返回任意值的规范 JSON 编码。
func CanonicalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, v)
	case []byte:
		return writeString(buf, base64.StdEncoding.EncodeToString(v))
	case int:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(v, 10))
	case float32:
		return writeFloat(buf, float64(v))
	case float64:
		return writeFloat(buf, v)
	case *big.Int:
		if v == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(v.String())
	case json.Number:
		return writeNumber(buf, v.String())
	case map[string]any:
		return writeObject(buf, v)
	case map[string]string:
		obj := make(map[string]any, len(v))
		for key, item := range v {
			obj[key] = item
		}
		return writeObject(buf, obj)
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("不支持的 payload 值类型 %T", value)
	}
	return nil
}

// writeNumber 输出解码得到的数字字面量。整数字面量按原值输出，不经过 float64，
// 超出 int64 的金额（如 wei）因此与签名方使用 uint64 或 *big.Int 时一致。
func writeNumber(buf *bytes.Buffer, s string) error {
	if isIntegerLiteral(s) {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("非法数字 %q", s)
		}
		buf.WriteString(n.String())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("非法数字 %q: %w", s, err)
	}
	return writeFloat(buf, f)
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func writeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[key]); err != nil {
			return fmt.Errorf("字段 %s: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// writeFloat 依赖 encoding/json 的浮点格式，其输出与 ECMAScript Number#toString 一致。
func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("不支持的浮点数 %v", f)
	}
	if f == 0 {
		// -0 与 0 视为同一值。
		buf.WriteByte('0')
		return nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf.Write(raw)
	return nil
}
