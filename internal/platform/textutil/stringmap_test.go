package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMapTrimsEntries(t *testing.T) {
	input := map[string]string{
		" X-Signature ": " abc123 ",
		"X-Delivery-Id": " dlv_42 ",
		"X-Empty-Value": "  ",
		"  ":            "dropped",
		"":              "dropped",
	}

	expected := map[string]string{
		"X-Signature":   "abc123",
		"X-Delivery-Id": "dlv_42",
		"X-Empty-Value": "",
	}

	if got := NormalizeStringMap(input); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
}

func TestNormalizeStringMapCollapsesToNil(t *testing.T) {
	if NormalizeStringMap(nil) != nil {
		t.Fatal("expected nil for nil input")
	}
	if NormalizeStringMap(map[string]string{" ": "x"}) != nil {
		t.Fatal("expected nil when no keys survive trimming")
	}
}
