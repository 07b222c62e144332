package cmd

import (
	"reflect"
	"testing"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{2684354560, "2.5 GB"},
	}

	for _, tt := range tests {
		got := humanSize(tt.bytes)
		if got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestParseArguments(t *testing.T) {
	got, err := parseArguments([]string{"from=foo", "count=3", "force=true", "text=a=b", "list=[1, 2]", "empty="})
	if err != nil {
		t.Fatalf("parseArguments: %v", err)
	}
	want := map[string]any{
		"from":  "foo",
		"count": 3,
		"force": true,
		"text":  "a=b",
		"list":  "[1, 2]",
		"empty": "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseArguments = %#v, want %#v", got, want)
	}
}

func TestParseArgumentsRejectsMissingKey(t *testing.T) {
	for _, in := range []string{"novalue", "=x"} {
		if _, err := parseArguments([]string{in}); err == nil {
			t.Errorf("parseArguments(%q) should fail", in)
		}
	}
}

func TestParseArgumentsEmpty(t *testing.T) {
	got, err := parseArguments(nil)
	if err != nil || got != nil {
		t.Errorf("parseArguments(nil) = %v, %v", got, err)
	}
}
