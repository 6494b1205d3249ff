package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultFillsSaneValues(t *testing.T) {
	f := Default()
	if f.Global.Slots <= 0 {
		t.Fatalf("Default Slots = %d, want > 0", f.Global.Slots)
	}
	if f.Global.ListenPort <= 0 {
		t.Fatalf("Default ListenPort = %d, want > 0", f.Global.ListenPort)
	}
	if f.Hub == nil {
		t.Fatalf("Default Hub map is nil")
	}
}

func TestLoadParsesHubBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ncdc.toml")
	contents := `
[global]
nick = "tester"
slots = 5
listen_port = 4111

[hub.example]
hubaddr = "hub.example.com:411"
nick = "tester"
protocol = "modern"
auto_connect = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Global.Nick != "tester" || f.Global.Slots != 5 || f.Global.ListenPort != 4111 {
		t.Fatalf("got global %+v", f.Global)
	}
	hub, ok := f.Hub["example"]
	if !ok {
		t.Fatalf("hub.example missing from %v", f.Hub)
	}
	if hub.Address != "hub.example.com:411" || hub.Protocol != "modern" || !hub.AutoConnect {
		t.Fatalf("got hub %+v", hub)
	}
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ncdc.toml")
	contents := "[global]\nnick = \"tester\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Global.Slots != 3 {
		t.Fatalf("Slots = %d, want default 3", f.Global.Slots)
	}
	if f.Global.ListenPort != 412 {
		t.Fatalf("ListenPort = %d, want default 412", f.Global.ListenPort)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("Load of missing file returned nil error")
	}
}
