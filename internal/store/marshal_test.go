package store

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/quantuminterface/qicode/internal/qicode"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := marshalCanonical(map[string]any{
		"zeta":  int64(2),
		"alpha": "x",
		"mid":   true,
	})
	if err != nil {
		t.Fatalf("marshalCanonical() failed: %v", err)
	}
	want := `{"alpha":"x","mid":true,"zeta":2}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonical_NormalizesToNFC(t *testing.T) {
	// U+0065 U+0301 composes to U+00E9.
	decomposed, err := marshalCanonical("café")
	if err != nil {
		t.Fatalf("marshalCanonical() failed: %v", err)
	}
	composed, err := marshalCanonical("café")
	if err != nil {
		t.Fatalf("marshalCanonical() failed: %v", err)
	}
	if !bytes.Equal(decomposed, composed) {
		t.Errorf("NFC forms differ: %q vs %q", decomposed, composed)
	}
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := marshalCanonical("<listing> & more")
	if err != nil {
		t.Fatalf("marshalCanonical() failed: %v", err)
	}
	want := `"<listing> & more"`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalDiagnostics_RoundTrip(t *testing.T) {
	diags := []qicode.Diagnostic{
		{Severity: qicode.SeverityWarning, Code: qicode.CodeProgressAccuracy, Message: "bounds unknown"},
		{Severity: qicode.SeverityInfo, Code: qicode.CodeDefaultProperty, Message: "using default"},
	}

	data, err := marshalDiagnostics(diags)
	if err != nil {
		t.Fatalf("marshalDiagnostics() failed: %v", err)
	}
	back, err := unmarshalDiagnostics(data)
	if err != nil {
		t.Fatalf("unmarshalDiagnostics() failed: %v", err)
	}
	if !reflect.DeepEqual(back, diags) {
		t.Errorf("diagnostics do not round trip:\ngot  %v\nwant %v", back, diags)
	}

	empty, err := marshalDiagnostics(nil)
	if err != nil {
		t.Fatalf("marshalDiagnostics(nil) failed: %v", err)
	}
	if empty != "[]" {
		t.Errorf("empty diagnostics = %q, want []", empty)
	}
}

func TestEncodeWords_LittleEndian(t *testing.T) {
	got := encodeWords([]uint32{0x12345678, 1})
	want := []byte{0x78, 0x56, 0x34, 0x12, 1, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeWords() = % x, want % x", got, want)
	}

	back, err := decodeWords(got)
	if err != nil {
		t.Fatalf("decodeWords() failed: %v", err)
	}
	if !reflect.DeepEqual(back, []uint32{0x12345678, 1}) {
		t.Errorf("words do not round trip: %v", back)
	}
}

func TestDecodeWords_RejectsMisalignedBlob(t *testing.T) {
	if _, err := decodeWords([]byte{1, 2, 3}); err == nil {
		t.Error("expected an error for a misaligned blob")
	}
}
