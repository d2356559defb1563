package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arloliu/go-framer/framing"
	"github.com/stretchr/testify/require"
)

const sample = `
metrics_addr = ":9090"

[[link]]
name = "plc"
transport = "tcp-dial"
address = "127.0.0.1:5000"

[[link]]
name = "gps"
transport = "serial"
address = "/dev/ttyUSB0"
delimiter = "\r\n"

[[link]]
name = "scale"
transport = "serial"
address = "/dev/ttyUSB1"
framing = "fixed"
record_size = 12
baud_rate = 19200
poll_timeout = "20ms"

[[link]]
transport = "UDP"
address = ":7000"
framing = "raw"
chunk_size = 1500
`

func TestParse_DefaultsAndConversion(t *testing.T) {
	require := require.New(t)

	cfg, err := Parse(sample)
	require.NoError(err)
	require.Equal(":9090", cfg.MetricsAddr)
	require.Equal(DefaultTickInterval, cfg.Tick())
	require.Len(cfg.Links, 4)

	plc := cfg.Links[0]
	require.Equal("binary", plc.Framing)

	gps := cfg.Links[1]
	require.Equal("line", gps.Framing)
	require.Equal(DefaultBaudRate, gps.BaudRate)
	gpsCfg, err := gps.ReceiverConfig()
	require.NoError(err)
	require.Equal(framing.LineDelimited, gpsCfg.Framing())
	require.Equal("\r\n", gpsCfg.LineDelimiter())

	scale := cfg.Links[2]
	scaleCfg, err := scale.ReceiverConfig()
	require.NoError(err)
	require.Equal(12, scaleCfg.RecordSize())
	require.Equal(20*time.Millisecond, scaleCfg.PollTimeout())
	require.Equal(19200, scale.BaudRate)

	udp := cfg.Links[3]
	require.Equal("link-3", udp.Name)
	require.Equal(TransportUDP, udp.Transport)
	udpCfg, err := udp.ReceiverConfig()
	require.NoError(err)
	require.Equal(1500, udpCfg.ChunkSize())
}

func TestLoad_File(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "links.toml")
	require.NoError(os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Len(cfg.Links, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no links", `metrics_addr = ":9090"`},
		{"bad toml", `[[link]`},
		{"missing address", "[[link]]\ntransport = \"udp\""},
		{"unknown transport", "[[link]]\ntransport = \"ws\"\naddress = \"x\""},
		{"serial framing on socket", "[[link]]\ntransport = \"tcp-listen\"\naddress = \":1\"\nframing = \"line\""},
		{"socket framing on serial", "[[link]]\ntransport = \"serial\"\naddress = \"COM1\"\nframing = \"binary\""},
		{"fixed without size", "[[link]]\ntransport = \"serial\"\naddress = \"COM1\"\nframing = \"fixed\""},
		{"bad poll timeout", "[[link]]\ntransport = \"udp\"\naddress = \":1\"\npoll_timeout = \"soon\""},
		{"bad tick", "tick_interval = \"-1s\"\n[[link]]\ntransport = \"udp\"\naddress = \":1\""},
		{"duplicate names", "[[link]]\nname = \"a\"\ntransport = \"udp\"\naddress = \":1\"\n[[link]]\nname = \"a\"\ntransport = \"udp\"\naddress = \":2\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
		})
	}
}
