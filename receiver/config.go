package receiver

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/logger"
	"github.com/arloliu/go-framer/typereg"
	"golang.org/x/time/rate"
)

// Default values of a receiver configuration.
const (
	DefaultChunkSize      = 4096
	DefaultPollTimeout    = 50 * time.Millisecond
	DefaultDisposeTimeout = 3 * time.Second

	DefaultErrorLogRate  = 1.0 // lines per second
	DefaultErrorLogBurst = 5
)

// Range limits of the receiver options.
const (
	MaxChunkSize  = 1 << 20
	MaxRecordSize = 1 << 20

	MinPollTimeout = 1 * time.Millisecond
	MaxPollTimeout = 5 * time.Second

	MinDisposeTimeout = 10 * time.Millisecond
	MaxDisposeTimeout = 60 * time.Second
)

// Config is the immutable framing configuration shared by every receiver created
// from it. Parse state lives in the receiver, so one Config can serve any number
// of connections.
type Config struct {
	framing framing.Kind

	// chunkSize is the read buffer size of raw framing and serial reads.
	chunkSize int
	// recordSize is the record length of fixed-length framing.
	recordSize int

	lineDelimiter string
	maxLineLength int

	limits framing.Limits

	// pollTimeout bounds each blocking read of the polling loops, so cancellation
	// is observed within one poll.
	pollTimeout time.Duration
	// disposeTimeout bounds how long Dispose waits for the read loop to return.
	disposeTimeout time.Duration

	resolver typereg.Resolver
	probe    LivenessProbe

	errorLogRate  rate.Limit
	errorLogBurst int

	logger logger.Logger
}

// NewConfig creates a configuration for the given framing strategy.
//
// FixedLength framing requires WithRecordSize.
func NewConfig(kind framing.Kind, opts ...Option) (*Config, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("receiver: %w: %d", framing.ErrUnknownKind, kind)
	}

	cfg := &Config{
		framing:        kind,
		chunkSize:      DefaultChunkSize,
		lineDelimiter:  framing.DefaultLineDelimiter,
		maxLineLength:  framing.DefaultMaxLineLength,
		limits:         framing.DefaultLimits(),
		pollTimeout:    DefaultPollTimeout,
		disposeTimeout: DefaultDisposeTimeout,
		probe:          ReadinessProbe(),
		errorLogRate:   rate.Limit(DefaultErrorLogRate),
		errorLogBurst:  DefaultErrorLogBurst,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if kind == framing.FixedLength && cfg.recordSize == 0 {
		return nil, errors.New("receiver: fixed-length framing requires a record size")
	}

	return cfg, nil
}

// Framing returns the framing strategy.
func (cfg *Config) Framing() framing.Kind { return cfg.framing }

// ChunkSize returns the read buffer size.
func (cfg *Config) ChunkSize() int { return cfg.chunkSize }

// RecordSize returns the fixed-length record size, or zero.
func (cfg *Config) RecordSize() int { return cfg.recordSize }

// LineDelimiter returns the line terminator of line-delimited framing.
func (cfg *Config) LineDelimiter() string { return cfg.lineDelimiter }

// MaxLineLength returns the longest line buffered before it is discarded.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// Limits returns the binary frame limits.
func (cfg *Config) Limits() framing.Limits { return cfg.limits }

// PollTimeout returns the bound of a single polling read.
func (cfg *Config) PollTimeout() time.Duration { return cfg.pollTimeout }

// DisposeTimeout returns how long Dispose waits for the read loop.
func (cfg *Config) DisposeTimeout() time.Duration { return cfg.disposeTimeout }

// Resolver returns the type resolver of binary framing, or nil.
func (cfg *Config) Resolver() typereg.Resolver { return cfg.resolver }

// Probe returns the TCP liveness probe.
func (cfg *Config) Probe() LivenessProbe { return cfg.probe }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithChunkSize sets the read buffer size of raw framing and serial reads.
// With raw framing over TCP, one read of up to this many bytes becomes one envelope.
func WithChunkSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxChunkSize {
			return fmt.Errorf("receiver: chunk size %d out of range [1, %d]", n, MaxChunkSize)
		}
		cfg.chunkSize = n

		return nil
	})
}

// WithRecordSize sets the record length of fixed-length framing.
func WithRecordSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxRecordSize {
			return fmt.Errorf("receiver: record size %d out of range [1, %d]", n, MaxRecordSize)
		}
		cfg.recordSize = n

		return nil
	})
}

// WithLineDelimiter sets the line terminator of line-delimited framing.
func WithLineDelimiter(delim string) Option {
	return optFunc(func(cfg *Config) error {
		if delim == "" {
			return errors.New("receiver: line delimiter must not be empty")
		}
		cfg.lineDelimiter = delim

		return nil
	})
}

// WithMaxLineLength bounds the bytes buffered while waiting for a delimiter.
func WithMaxLineLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 {
			return errors.New("receiver: max line length must be >= 1")
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithMaxTypeNameLength bounds the type name of a binary frame.
func WithMaxTypeNameLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > math.MaxInt32 {
			return fmt.Errorf("receiver: max type name length %d out of range [1, %d]", n, math.MaxInt32)
		}
		cfg.limits.MaxTypeNameLength = n

		return nil
	})
}

// WithMaxPayloadLength bounds the payload of a binary frame.
func WithMaxPayloadLength(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > math.MaxInt32 {
			return fmt.Errorf("receiver: max payload length %d out of range [1, %d]", n, math.MaxInt32)
		}
		cfg.limits.MaxPayloadLength = n

		return nil
	})
}

// WithPollTimeout sets the bound of a single polling read.
func WithPollTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollTimeout || d > MaxPollTimeout {
			return fmt.Errorf("receiver: poll timeout %v out of range [%v, %v]", d, MinPollTimeout, MaxPollTimeout)
		}
		cfg.pollTimeout = d

		return nil
	})
}

// WithDisposeTimeout sets how long Dispose waits for the read loop to return.
func WithDisposeTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinDisposeTimeout || d > MaxDisposeTimeout {
			return fmt.Errorf("receiver: dispose timeout %v out of range [%v, %v]", d, MinDisposeTimeout, MaxDisposeTimeout)
		}
		cfg.disposeTimeout = d

		return nil
	})
}

// WithTypeRegistry sets the resolver used to decode binary frames.
// Without one, binary frames are delivered with a nil decoded value.
func WithTypeRegistry(r typereg.Resolver) Option {
	return optFunc(func(cfg *Config) error {
		cfg.resolver = r
		return nil
	})
}

// WithLivenessProbe replaces the TCP liveness probe used by raw framing.
func WithLivenessProbe(p LivenessProbe) Option {
	return optFunc(func(cfg *Config) error {
		if p == nil {
			return errors.New("receiver: liveness probe must not be nil")
		}
		cfg.probe = p

		return nil
	})
}

// WithErrorLogRate limits how many transient read errors are logged per second.
// Errors beyond the limit are still counted in the metrics.
func WithErrorLogRate(perSecond float64, burst int) Option {
	return optFunc(func(cfg *Config) error {
		if perSecond <= 0 || burst < 1 {
			return fmt.Errorf("receiver: invalid error log rate %v/s burst %d", perSecond, burst)
		}
		cfg.errorLogRate = rate.Limit(perSecond)
		cfg.errorLogBurst = burst

		return nil
	})
}

// WithLogger sets the logger for receivers created from the config.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("receiver: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
