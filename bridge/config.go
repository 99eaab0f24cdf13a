// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: The deskbridge Authors

package bridge

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	rfb "github.com/deskbridge/go-rfb"
)

// Defaults for the target port and the reference resolution screenshots
// are scaled to. FWXGA keeps screenshots small enough to inspect while
// leaving UI text readable.
const (
	DefaultPort         = 5900
	DefaultTargetWidth  = 1366
	DefaultTargetHeight = 768
	DefaultClickDelayMs = 100
)

// Config is the bridge's TOML-file configuration. Field values from the
// file are layered over DefaultConfig, and RFBRIDGE_* environment
// variables are layered over both.
type Config struct {
	Target  TargetSection  `toml:"target"`
	Capture CaptureSection `toml:"capture"`
	Input   InputSection   `toml:"input"`
}

// TargetSection identifies the remote desktop and its credentials.
type TargetSection struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Addr returns the host:port dial address of the target.
func (t TargetSection) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// CaptureSection sets the reference resolution. Screenshots are scaled to
// it, and action coordinates are interpreted in it.
type CaptureSection struct {
	TargetWidth  int `toml:"target_width"`
	TargetHeight int `toml:"target_height"`
}

// Reference returns the reference resolution as a Size.
func (c CaptureSection) Reference() Size {
	return Size{Width: c.TargetWidth, Height: c.TargetHeight}
}

// InputSection paces synthetic input. Values are milliseconds.
type InputSection struct {
	TypeDelayMs  int `toml:"type_delay_ms"`
	KeyDelayMs   int `toml:"key_delay_ms"`
	ClickDelayMs int `toml:"click_delay_ms"`
}

// TypeDelay returns the pause between typed characters.
func (i InputSection) TypeDelay() time.Duration {
	return time.Duration(i.TypeDelayMs) * time.Millisecond
}

// KeyDelay returns the pause between key transitions in a combination.
func (i InputSection) KeyDelay() time.Duration {
	return time.Duration(i.KeyDelayMs) * time.Millisecond
}

// ClickDelay returns the pause between a button press and its release.
func (i InputSection) ClickDelay() time.Duration {
	return time.Duration(i.ClickDelayMs) * time.Millisecond
}

// DefaultConfig returns the baseline every load starts from.
func DefaultConfig() Config {
	return Config{
		Target: TargetSection{
			Port: DefaultPort,
		},
		Capture: CaptureSection{
			TargetWidth:  DefaultTargetWidth,
			TargetHeight: DefaultTargetHeight,
		},
		Input: InputSection{
			TypeDelayMs:  int(rfb.DefaultTypeDelay / time.Millisecond),
			KeyDelayMs:   int(rfb.DefaultKeyDelay / time.Millisecond),
			ClickDelayMs: DefaultClickDelayMs,
		},
	}
}

// LoadConfig builds a Config from defaults, an optional TOML file, and
// environment overrides, in that order. An empty path skips the file; a
// path that cannot be read or parsed is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return Config{}, errors.Wrap(err, "resolve home directory")
			}
			path = filepath.Join(home, path[2:])
		}
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "load config %s", path)
		}
	}
	return applyEnvOverrides(cfg), nil
}

// applyEnvOverrides layers RFBRIDGE_* variables over cfg. The flat names
// let containerized deployments configure a target without a file.
func applyEnvOverrides(cfg Config) Config {
	if val := os.Getenv("RFBRIDGE_HOST"); val != "" {
		cfg.Target.Host = val
	}
	if val := os.Getenv("RFBRIDGE_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Target.Port = port
		}
	}
	if val := os.Getenv("RFBRIDGE_USERNAME"); val != "" {
		cfg.Target.Username = val
	}
	if val := os.Getenv("RFBRIDGE_PASSWORD"); val != "" {
		cfg.Target.Password = val
	}
	if val := os.Getenv("RFBRIDGE_TARGET_WIDTH"); val != "" {
		if width, err := strconv.Atoi(val); err == nil {
			cfg.Capture.TargetWidth = width
		}
	}
	if val := os.Getenv("RFBRIDGE_TARGET_HEIGHT"); val != "" {
		if height, err := strconv.Atoi(val); err == nil {
			cfg.Capture.TargetHeight = height
		}
	}
	return cfg
}
