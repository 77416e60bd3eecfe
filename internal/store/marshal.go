package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/quantuminterface/qicode/internal/qicode"
)

// marshalCanonical renders a value as canonical JSON: object keys
// sorted, strings NFC normalized, no HTML escaping. Archive records
// written on different machines compare byte for byte.
func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case string:
		return appendCanonicalString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case int:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case int64:
		fmt.Fprintf(buf, "%d", val)
		return nil
	case []string:
		buf.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonicalString(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := appendCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	}
	return fmt.Errorf("unsupported type for canonical JSON: %T", v)
}

// appendCanonicalString NFC normalizes at the serialization boundary
// and encodes without HTML escaping.
func appendCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var enc bytes.Buffer
	e := json.NewEncoder(&enc)
	e.SetEscapeHTML(false)
	if err := e.Encode(normalized); err != nil {
		return err
	}
	out := enc.Bytes()
	// The encoder appends a newline.
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	buf.Write(out)
	return nil
}

// marshalDiagnostics serializes a diagnostic list for the builds table.
func marshalDiagnostics(diags []qicode.Diagnostic) (string, error) {
	arr := make([]any, len(diags))
	for i, d := range diags {
		arr[i] = map[string]any{
			"severity": d.Severity.String(),
			"code":     string(d.Code),
			"message":  d.Message,
		}
	}
	data, err := marshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal diagnostics: %w", err)
	}
	return string(data), nil
}

func unmarshalDiagnostics(data string) ([]qicode.Diagnostic, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var raw []struct {
		Severity string `json:"severity"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	diags := make([]qicode.Diagnostic, len(raw))
	for i, r := range raw {
		sev := qicode.SeverityWarning
		if r.Severity == qicode.SeverityInfo.String() {
			sev = qicode.SeverityInfo
		}
		diags[i] = qicode.Diagnostic{
			Severity: sev,
			Code:     qicode.ErrorCode(r.Code),
			Message:  r.Message,
		}
	}
	return diags, nil
}

// marshalResultOrder serializes the acquisition order of one program.
func marshalResultOrder(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := marshalCanonical(names)
	if err != nil {
		return "", fmt.Errorf("marshal result order: %w", err)
	}
	return string(data), nil
}

func unmarshalResultOrder(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal result order: %w", err)
	}
	return names, nil
}

// encodeWords packs program words little-endian, the byte order the
// controller consumes.
func encodeWords(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func decodeWords(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("program blob length %d is not word aligned", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return words, nil
}
