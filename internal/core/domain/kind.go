package domain

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a failed outbound call.
type ErrorKind string

const (
	KindOffline ErrorKind = "OFFLINE"
	KindTimeout ErrorKind = "TIMEOUT"
	KindService ErrorKind = "SERVICE"
	KindClient  ErrorKind = "CLIENT"
	KindNetwork ErrorKind = "NETWORK"
	KindUnknown ErrorKind = "UNKNOWN"
)

// Severity orders error records for reporting decisions.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityDebug:    "debug",
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity maps a config string (debug, info, warn/warning, error, critical) to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical", "fatal":
		return SeverityCritical, nil
	}
	return SeverityDebug, fmt.Errorf("unknown severity %q", s)
}

// MarshalText encodes the severity by name so JSON payloads stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
