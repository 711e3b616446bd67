package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec 把事件编码为消息体。
type Codec interface {
	Name() string
	ContentType() string
	Encode(event Event) ([]byte, error)
	Decode(data []byte, event *Event) error
}

// NewCodec 按名称返回编码器，支持 json 与 cbor。
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("不支持的事件编码: %s", name)
	}
}

// JSONCodec 使用 encoding/json。
type JSONCodec struct{}

// Name 实现 Codec 接口。
func (JSONCodec) Name() string { return "json" }

// ContentType 实现 Codec 接口。
func (JSONCodec) ContentType() string { return "application/json" }

// Encode 实现 Codec 接口。
func (JSONCodec) Encode(event Event) ([]byte, error) { return json.Marshal(event) }

// Decode 实现 Codec 接口。
func (JSONCodec) Decode(data []byte, event *Event) error { return json.Unmarshal(data, event) }

// cborEncMode 使用 Core Deterministic Encoding：相同的事件总是得到相同的字节。
var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("events: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec 使用确定性 CBOR 编码。
type CBORCodec struct{}

// Name 实现 Codec 接口。
func (CBORCodec) Name() string { return "cbor" }

// ContentType 实现 Codec 接口。
func (CBORCodec) ContentType() string { return "application/cbor" }

// Encode 实现 Codec 接口。
func (CBORCodec) Encode(event Event) ([]byte, error) { return cborEncMode.Marshal(event) }

// Decode 实现 Codec 接口。
func (CBORCodec) Decode(data []byte, event *Event) error { return cborDecMode.Unmarshal(data, event) }
