// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"net"
	"os"
	"time"
)

// SyslogConfig configures an RFC 3164 syslog forwarder for the gateway's
// housekeeping ticker and Diameter error logs. Disabled by default: MAGIC
// cores normally run headless under a supervising process that already
// captures stdout/stderr.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the disabled default.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "magic",
		Facility: 1, // user-level messages
	}
}

// syslogWriter is an io.Writer that frames each Write as one RFC 3164
// syslog message and forwards it over a long-lived UDP/TCP connection.
type syslogWriter struct {
	conn     net.Conn
	tag      string
	facility int
	hostname string
}

// NewSyslogWriter dials cfg.Host:cfg.Port and returns a writer that frames
// every Write call as a syslog message. A zero Port, empty Protocol and
// empty Tag are normalized to DefaultSyslogConfig()'s values; Facility is
// used as given, so a zero Facility stays 0.
func NewSyslogWriter(cfg SyslogConfig) (*syslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "magic"
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout(cfg.Protocol, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog %s: %w", addr, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "magic-core"
	}

	return &syslogWriter{
		conn:     conn,
		tag:      cfg.Tag,
		facility: cfg.Facility,
		hostname: hostname,
	}, nil
}

// Write implements io.Writer, framing p as a single RFC 3164 syslog record
// at severity "informational" (6); the collector is responsible for its
// own level filtering upstream of this writer.
func (w *syslogWriter) Write(p []byte) (int, error) {
	const severity = 6
	priority := w.facility*8 + severity
	msg := fmt.Sprintf("<%d>%s %s %s: %s", priority, time.Now().Format(time.Stamp), w.hostname, w.tag, p)
	if _, err := w.conn.Write([]byte(msg)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the underlying connection.
func (w *syslogWriter) Close() error {
	return w.conn.Close()
}
