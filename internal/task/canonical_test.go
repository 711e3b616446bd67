package task

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"strings"
	"testing"

	xerrors "ElizaDID/internal/errors"
)

func TestCanonicalMessage(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		payload map[string]any
		want    string
	}{
		{
			name:    "sorted keys without whitespace",
			typ:     TypeTransfer,
			payload: map[string]any{"to": "0xabc", "amount": 1.5},
			want:    `transfer:{"amount":1.5,"to":"0xabc"}`,
		},
		{
			name:    "integral float equals integer",
			typ:     TypeSwap,
			payload: map[string]any{"a": 3.0, "b": 3, "c": json.Number("3")},
			want:    `swap:{"a":3,"b":3,"c":3}`,
		},
		{
			name:    "nested structures",
			typ:     TypeVote,
			payload: map[string]any{"z": []any{map[string]any{"y": true, "x": nil}}, "a": "<&>"},
			want:    `vote:{"a":"<&>","z":[{"x":null,"y":true}]}`,
		},
		{
			name:    "empty payload",
			typ:     "ping",
			payload: nil,
			want:    `ping:{}`,
		},
		{
			name:    "large and small floats",
			typ:     "calc",
			payload: map[string]any{"big": 1e21, "small": 0.0000001, "neg": -0.0},
			want:    `calc:{"big":1e+21,"neg":0,"small":1e-7}`,
		},
		{
			name:    "unicode strings",
			typ:     "note",
			payload: map[string]any{"text": "签名\n"},
			want:    `note:{"text":"签名\n"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalMessage(tc.typ, tc.payload)
			if err != nil {
				t.Fatalf("canonical message: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestCanonicalMessageIsIndependentOfInsertionOrder(t *testing.T) {
	first := map[string]any{}
	second := map[string]any{}
	keys := []string{"k1", "k9", "a", "Z", "m"}
	for i, key := range keys {
		first[key] = i
	}
	for i := len(keys) - 1; i >= 0; i-- {
		second[keys[i]] = i
	}
	a, err := CanonicalMessage(TypeTransfer, first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CanonicalMessage(TypeTransfer, second)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("messages differ: %s vs %s", a, b)
	}
}

func TestCanonicalMessageRejectsInvalidInput(t *testing.T) {
	if _, err := CanonicalMessage("bad:type", map[string]any{}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for delimiter in type, got %v", err)
	}
	if _, err := CanonicalMessage(TypeSwap, map[string]any{"x": math.NaN()}); err == nil {
		t.Fatal("expected NaN to be rejected")
	}
	if _, err := CanonicalMessage(TypeSwap, map[string]any{"x": struct{}{}}); err == nil || !strings.Contains(err.Error(), "x") {
		t.Fatalf("expected unsupported type error naming the field, got %v", err)
	}
}

func TestNewValidatesInput(t *testing.T) {
	if _, err := New("", map[string]any{}, []byte{1}, 0); err == nil {
		t.Fatal("expected empty type to fail")
	}
	if _, err := New(TypeTransfer, nil, []byte{1}, 0); err == nil {
		t.Fatal("expected nil payload to fail")
	}
	if _, err := New(TypeTransfer, map[string]any{}, nil, 0); err == nil {
		t.Fatal("expected empty signature to fail")
	}
	task, err := New(" transfer ", map[string]any{"to": "x"}, []byte{1}, 3)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type != TypeTransfer || task.Priority != 3 {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestCanonicalIntegersSurviveJSONRoundTrip(t *testing.T) {
	wei, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	payloads := []map[string]any{
		{"amount": uint64(12345678901234567891)},
		{"amount": json.Number("12345678901234567891")},
		{"amount": wei},
		{"amount": json.Number("-98765432109876543210"), "fee": 2.5},
		{"nested": []any{map[string]any{"value": uint64(math.MaxUint64)}}},
	}
	for _, payload := range payloads {
		signed, err := CanonicalMessage(TypeTransfer, payload)
		if err != nil {
			t.Fatalf("canonical message: %v", err)
		}
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var decoded map[string]any
		if err := dec.Decode(&decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		verified, err := CanonicalMessage(TypeTransfer, decoded)
		if err != nil {
			t.Fatalf("canonical message after decode: %v", err)
		}
		if string(signed) != string(verified) {
			t.Fatalf("canonical mismatch: signed %s verified %s", signed, verified)
		}
	}

	got, err := CanonicalMessage(TypeTransfer, map[string]any{"a": wei, "b": json.Number("1.50"), "c": json.Number("1e3")})
	if err != nil {
		t.Fatalf("canonical message: %v", err)
	}
	if want := `transfer:{"a":123456789012345678901234567890,"b":1.5,"c":1000}`; string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
