// Package config loads the link definitions of framectl from a TOML file.
//
//	metrics_addr = ":9090"
//	tick_interval = "20ms"
//
//	[[link]]
//	name = "plc"
//	transport = "tcp-dial"
//	address = "10.0.0.5:5000"
//	framing = "binary"
//
//	[[link]]
//	name = "gps"
//	transport = "serial"
//	address = "/dev/ttyUSB0"
//	framing = "line"
//	baud_rate = 9600
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/receiver"
)

// Transport names accepted in a link definition.
const (
	TransportTCPDial   = "tcp-dial"
	TransportTCPListen = "tcp-listen"
	TransportUDP       = "udp"
	TransportSerial    = "serial"
)

const (
	DefaultTickInterval = 20 * time.Millisecond
	DefaultBaudRate     = 9600
)

// File is the content of a framectl configuration file.
type File struct {
	MetricsAddr  string `toml:"metrics_addr"`
	TickInterval string `toml:"tick_interval"`
	Links        []Link `toml:"link"`
}

// Link describes one transport to open and how to frame it.
type Link struct {
	Name        string `toml:"name"`
	Transport   string `toml:"transport"`
	Address     string `toml:"address"`
	Framing     string `toml:"framing"`
	RecordSize  int    `toml:"record_size"`
	ChunkSize   int    `toml:"chunk_size"`
	Delimiter   string `toml:"delimiter"`
	BaudRate    int    `toml:"baud_rate"`
	PollTimeout string `toml:"poll_timeout"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (File, error) {
	var cfg File
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return File{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	return finish(cfg)
}

// Parse is like Load for configuration text.
func Parse(data string) (File, error) {
	var cfg File
	if _, err := toml.Decode(data, &cfg); err != nil {
		return File{}, fmt.Errorf("config parse failed: %w", err)
	}

	return finish(cfg)
}

func finish(cfg File) (File, error) {
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return File{}, err
	}

	return cfg, nil
}

func applyDefaults(cfg *File) {
	if strings.TrimSpace(cfg.TickInterval) == "" {
		cfg.TickInterval = DefaultTickInterval.String()
	}

	for i := range cfg.Links {
		link := &cfg.Links[i]
		link.Transport = strings.ToLower(strings.TrimSpace(link.Transport))
		if link.Name == "" {
			link.Name = fmt.Sprintf("link-%d", i)
		}
		if link.Framing == "" {
			if link.Transport == TransportSerial {
				link.Framing = framing.LineDelimited.String()
			} else {
				link.Framing = framing.Binary.String()
			}
		}
		if link.Transport == TransportSerial && link.BaudRate == 0 {
			link.BaudRate = DefaultBaudRate
		}
	}
}

// Tick returns the parsed tick interval.
func (f File) Tick() time.Duration {
	d, err := time.ParseDuration(f.TickInterval)
	if err != nil || d <= 0 {
		return DefaultTickInterval
	}

	return d
}

// Validate checks a defaulted configuration.
func Validate(cfg File) error {
	if d, err := time.ParseDuration(cfg.TickInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid tick_interval %q", cfg.TickInterval)
	}
	if len(cfg.Links) == 0 {
		return fmt.Errorf("config has no [[link]] entries")
	}

	names := make(map[string]struct{}, len(cfg.Links))
	for i, link := range cfg.Links {
		if err := ValidateLink(link); err != nil {
			return fmt.Errorf("link[%d] %q invalid: %w", i, link.Name, err)
		}
		if _, dup := names[link.Name]; dup {
			return fmt.Errorf("link[%d] duplicate name %q", i, link.Name)
		}
		names[link.Name] = struct{}{}
	}

	return nil
}

// ValidateLink checks one link definition, including that its framing options
// form a valid receiver configuration.
func ValidateLink(link Link) error {
	if strings.TrimSpace(link.Address) == "" {
		return fmt.Errorf("address is required")
	}

	kind, err := framing.ParseKind(link.Framing)
	if err != nil {
		return err
	}

	switch link.Transport {
	case TransportTCPDial, TransportTCPListen, TransportUDP:
		if !kind.ForSockets() {
			return fmt.Errorf("%s framing is not available on %s", kind, link.Transport)
		}
	case TransportSerial:
		if !kind.ForSerial() {
			return fmt.Errorf("%s framing is not available on serial ports", kind)
		}
		if link.BaudRate <= 0 {
			return fmt.Errorf("baud_rate must be positive")
		}
	default:
		return fmt.Errorf("unknown transport %q", link.Transport)
	}

	_, err = link.ReceiverConfig()

	return err
}

// ReceiverConfig converts the link's framing settings into a receiver
// configuration. Extra options are applied last.
func (l Link) ReceiverConfig(extra ...receiver.Option) (*receiver.Config, error) {
	kind, err := framing.ParseKind(l.Framing)
	if err != nil {
		return nil, err
	}

	var opts []receiver.Option
	if l.RecordSize != 0 {
		opts = append(opts, receiver.WithRecordSize(l.RecordSize))
	}
	if l.ChunkSize != 0 {
		opts = append(opts, receiver.WithChunkSize(l.ChunkSize))
	}
	if l.Delimiter != "" {
		opts = append(opts, receiver.WithLineDelimiter(l.Delimiter))
	}
	if strings.TrimSpace(l.PollTimeout) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(l.PollTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse poll_timeout: %w", err)
		}
		opts = append(opts, receiver.WithPollTimeout(d))
	}

	return receiver.NewConfig(kind, append(opts, extra...)...)
}
