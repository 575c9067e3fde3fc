package logger

import (
	"fmt"
	"strings"
)

// Level is a log level.
type Level int

// Log levels.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

// MarshalText implements encoding.TextMarshaler, used by the TOML encoder.
func (l Level) MarshalText() ([]byte, error) {
	switch l {
	case Error:
		return []byte("error"), nil
	case Warn:
		return []byte("warn"), nil
	case Info:
		return []byte("info"), nil
	default:
		return []byte("debug"), nil
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (l *Level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "error":
		*l = Error
	case "warn":
		*l = Warn
	case "info":
		*l = Info
	case "debug":
		*l = Debug
	default:
		return fmt.Errorf("invalid log level: '%s'", string(b))
	}
	return nil
}

// UnmarshalEnv implements env.envUnmarshaler.
func (l *Level) UnmarshalEnv(v string) error {
	return l.UnmarshalText([]byte(v))
}

// Destination is a log destination.
type Destination int

// Log destinations.
const (
	// DestinationStdout writes logs to the standard output.
	DestinationStdout Destination = iota

	// DestinationFile writes logs to a file.
	DestinationFile

	// DestinationSyslog writes logs to the system logger.
	DestinationSyslog
)

// MarshalText implements encoding.TextMarshaler, used by the TOML encoder.
func (d Destination) MarshalText() ([]byte, error) {
	switch d {
	case DestinationFile:
		return []byte("file"), nil
	case DestinationSyslog:
		return []byte("syslog"), nil
	default:
		return []byte("stdout"), nil
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Destination) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stdout":
		*d = DestinationStdout
	case "file":
		*d = DestinationFile
	case "syslog":
		*d = DestinationSyslog
	default:
		return fmt.Errorf("invalid log destination: '%s'", string(b))
	}
	return nil
}

// UnmarshalEnv implements env.envUnmarshaler.
func (d *Destination) UnmarshalEnv(v string) error {
	return d.UnmarshalText([]byte(v))
}

// String implements fmt.Stringer.
func (l Level) String() string {
	b, _ := l.MarshalText()
	return string(b)
}

// Destinations is a comma-separated list of Destination values, as
// configured by the "log_destinations" config key or env var.
type Destinations []Destination

// MarshalText implements encoding.TextMarshaler.
func (ds Destinations) MarshalText() ([]byte, error) {
	parts := make([]string, len(ds))
	for i, d := range ds {
		b, err := d.MarshalText()
		if err != nil {
			return nil, err
		}
		parts[i] = string(b)
	}
	return []byte(strings.Join(parts, ",")), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ds *Destinations) UnmarshalText(b []byte) error {
	return ds.UnmarshalEnv(string(b))
}

// UnmarshalEnv implements env.envUnmarshaler.
func (ds *Destinations) UnmarshalEnv(v string) error {
	if v == "" {
		*ds = nil
		return nil
	}

	parts := strings.Split(v, ",")
	out := make(Destinations, len(parts))
	for i, p := range parts {
		if err := out[i].UnmarshalText([]byte(strings.TrimSpace(p))); err != nil {
			return err
		}
	}
	*ds = out
	return nil
}
