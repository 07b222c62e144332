package config

import (
	"strings"
	"testing"
	"time"
)

func TestMergeScalarsOverlayWins(t *testing.T) {
	base := &Config{Version: 1, Codemod: "replace", Target: "./a", Workers: 2, WorkerTimeout: Duration(time.Second), LogDir: "/var/log"}
	overlay := &Config{Version: 1, Target: "./b", Workers: 6}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Codemod != "replace" {
		t.Errorf("codemod = %q, base should survive", merged.Codemod)
	}
	if merged.Target != "./b" || merged.Workers != 6 {
		t.Errorf("target=%q workers=%d, overlay should win", merged.Target, merged.Workers)
	}
	if merged.WorkerTimeout.Std() != time.Second || merged.LogDir != "/var/log" {
		t.Errorf("unset overlay fields should keep base values: %+v", merged)
	}
}

func TestMergeBoolsCanBeSwitchedOff(t *testing.T) {
	base := &Config{Version: 1, DryRun: Bool(true), Format: Bool(true)}
	overlay := &Config{Version: 1, DryRun: Bool(false)}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if IsSet(merged.DryRun) {
		t.Error("overlay should switch dry_run off")
	}
	if !IsSet(merged.Format) {
		t.Error("format should be inherited")
	}
}

func TestMergeArgumentsDeep(t *testing.T) {
	base := &Config{Version: 1, Arguments: map[string]any{
		"org":  "acme",
		"meta": map[string]any{"owner": "team-a", "tier": 1},
	}}
	overlay := &Config{Version: 1, Arguments: map[string]any{
		"env":  "staging",
		"meta": map[string]any{"tier": 2},
	}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Arguments["org"] != "acme" || merged.Arguments["env"] != "staging" {
		t.Errorf("arguments = %v", merged.Arguments)
	}
	meta := merged.Arguments["meta"].(map[string]any)
	if meta["owner"] != "team-a" || meta["tier"] != 2 {
		t.Errorf("nested arguments = %v", meta)
	}
	if base.Arguments["meta"].(map[string]any)["tier"] != 1 {
		t.Error("merge must not mutate the base layer")
	}
}

func TestMergePatternsConcatenate(t *testing.T) {
	base := &Config{Version: 1, Include: []string{"**/*.go"}, Exclude: []string{"vendor/**"}}
	overlay := &Config{Version: 1, Include: []string{"**/*.md"}, Exclude: []string{"testdata/**"}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if strings.Join(merged.Include, ",") != "**/*.go,**/*.md" {
		t.Errorf("include = %v", merged.Include)
	}
	if strings.Join(merged.Exclude, ",") != "vendor/**,testdata/**" {
		t.Errorf("exclude = %v", merged.Exclude)
	}
}

func TestMergeVersionMismatch(t *testing.T) {
	_, err := Merge(&Config{Version: 1}, &Config{Version: 2})
	if err == nil || !strings.Contains(err.Error(), "version mismatch") {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestMergeNil(t *testing.T) {
	cfg := &Config{Version: 1}
	if got, _ := Merge(nil, cfg); got != cfg {
		t.Error("nil base should return overlay")
	}
	if got, _ := Merge(cfg, nil); got != cfg {
		t.Error("nil overlay should return base")
	}
}

func TestMergeAll(t *testing.T) {
	merged, err := MergeAll([]*Config{
		{Version: 1, Workers: 1},
		{Workers: 2},
		{Codemod: "template"},
	})
	if err != nil {
		t.Fatalf("MergeAll: %v", err)
	}
	if merged.Version != 1 || merged.Workers != 2 || merged.Codemod != "template" {
		t.Errorf("merged = %+v", merged)
	}

	if _, err := MergeAll(nil); err == nil {
		t.Error("expected error for no configs")
	}
}
