// Package config defines the typed configuration values spec.md §6
// lists as consumed keys. Parsing a full settings UI is a spec.md §1
// non-goal; this is just enough structure and TOML loading to
// construct a HubSession and CCSession in cmd/ncdc and in tests.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Global holds the process-wide identity and share settings.
type Global struct {
	CID          string `toml:"cid"`
	PID          string `toml:"pid"`
	Nick         string `toml:"nick"`
	DownloadDir  string `toml:"download_dir"`
	IncomingDir  string `toml:"incoming_dir"`
	TLSPolicy    string `toml:"tls_policy"`
	Slots        int    `toml:"slots"`
	ListenPort   int    `toml:"listen_port"`
	ColorNick    string `toml:"color_nick"`
	ColorMessage string `toml:"color_message"`
	ColorError   string `toml:"color_error"`
}

// Hub holds the per-hub settings spec.md §6 lists.
type Hub struct {
	Name     string `toml:"name"`
	Address  string `toml:"hubaddr"`
	Encoding string `toml:"encoding"`
	// Protocol is the dial choice spec.md §4.5 calls out: "legacy" or
	// "modern". Defaults to "legacy" if unset or unrecognized.
	Protocol    string `toml:"protocol"`
	Description string `toml:"description"`
	Connection  string `toml:"connection"`
	Email       string `toml:"email"`
	Nick        string `toml:"nick"`
	Password    string `toml:"password"`
	AutoConnect bool   `toml:"auto_connect"`
}

// File is the top-level shape of a loaded config file: one Global
// block and any number of named Hub blocks.
type File struct {
	Global Global         `toml:"global"`
	Hub    map[string]Hub `toml:"hub"`
}

// Load parses a TOML config file at path.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if f.Global.Slots <= 0 {
		f.Global.Slots = 3
	}
	if f.Global.ListenPort <= 0 {
		f.Global.ListenPort = 412
	}
	return &f, nil
}

// Default returns a minimal in-memory config for tests and the
// cmd/ncdc demo binary, when no file is supplied.
func Default() *File {
	return &File{
		Global: Global{
			Nick:       "ncdc",
			Slots:      3,
			ListenPort: 412,
		},
		Hub: map[string]Hub{},
	}
}
