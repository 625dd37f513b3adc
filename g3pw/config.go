package g3pw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/thermalworks/go-compoway/compoway"
	"github.com/thermalworks/go-compoway/logger"
	"github.com/thermalworks/go-compoway/serial"
)

// Config collects everything needed to reach one controller. The zero value
// of every field selects a default, so a JSON file only needs the fields
// that differ; the minimal config is just the device path.
//
// Durations are given in milliseconds to keep the JSON shape plain.
type Config struct {
	// Device is the serial port path, e.g. "/dev/ttyUSB0" or "COM3".
	Device string `json:"device"`

	// Serial line parameters; zero values select the controller's factory
	// communication settings (57600 baud, 7 data bits, even parity, 2 stop
	// bits).
	BaudRate int           `json:"baud_rate,omitempty"`
	DataBits int           `json:"data_bits,omitempty"`
	Parity   serial.Parity `json:"parity,omitempty"`
	StopBits int           `json:"stop_bits,omitempty"`

	// Unit is the controller's communications unit number, 1-99. Zero
	// selects the factory default unit number 1.
	Unit int `json:"unit,omitempty"`

	// Transaction parameters; zero values select the compoway defaults.
	ReplyTimeoutMS     int `json:"reply_timeout_ms,omitempty"`
	CharTimeoutMS      int `json:"char_timeout_ms,omitempty"`
	MaxAttempts        int `json:"max_attempts,omitempty"`
	TransactionDelayMS int `json:"transaction_delay_ms,omitempty"`

	// SkipModelCheck disables the controller attribute read Connect uses to
	// verify the device is a G3PW.
	SkipModelCheck bool `json:"skip_model_check,omitempty"`

	// Catalog overrides the built-in register table. Nil selects
	// DefaultCatalog.
	Catalog *Catalog `json:"-"`

	// Logger overrides the package default logger.
	Logger logger.Logger `json:"-"`
}

// LoadConfig reads a Config from a JSON file. Unknown fields are rejected so
// misspelled parameters fail loudly instead of silently selecting defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("g3pw: read config: %w", err)
	}

	var cfg Config

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("g3pw: decode config %s: %w", path, err)
	}

	return &cfg, nil
}

// serialConfig maps the serial line fields onto the serial package's Config.
func (cfg *Config) serialConfig() serial.Config {
	return serial.Config{
		Device:   cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	}
}

// unit returns the configured unit number with the default applied.
func (cfg *Config) unit() (uint8, error) {
	switch {
	case cfg.Unit == 0:
		return compoway.DefaultUnit, nil
	case cfg.Unit < 0 || cfg.Unit > compoway.MaxUnit:
		return 0, fmt.Errorf("g3pw: unit %d out of range [1, %d]", cfg.Unit, compoway.MaxUnit)
	default:
		return uint8(cfg.Unit), nil
	}
}

// connOptions assembles the compoway options for the non-zero transaction
// parameters. Validation happens in the option constructors.
func (cfg *Config) connOptions() []compoway.ConnOption {
	var opts []compoway.ConnOption

	if cfg.ReplyTimeoutMS > 0 {
		opts = append(opts, compoway.WithReplyTimeout(time.Duration(cfg.ReplyTimeoutMS)*time.Millisecond))
	}
	if cfg.CharTimeoutMS > 0 {
		opts = append(opts, compoway.WithCharTimeout(time.Duration(cfg.CharTimeoutMS)*time.Millisecond))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, compoway.WithMaxAttempts(cfg.MaxAttempts))
	}
	if cfg.TransactionDelayMS > 0 {
		opts = append(opts, compoway.WithTransactionDelay(time.Duration(cfg.TransactionDelayMS)*time.Millisecond))
	}
	if cfg.Logger != nil {
		opts = append(opts, compoway.WithLogger(cfg.Logger))
	}

	return opts
}

// catalog returns the configured catalog with the default applied.
func (cfg *Config) catalog() *Catalog {
	if cfg.Catalog != nil {
		return cfg.Catalog
	}

	return DefaultCatalog()
}

// log returns the configured logger with the default applied.
func (cfg *Config) log() logger.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}

	return logger.GetLogger()
}
