package syslogd

import (
	"fmt"
	"strings"
	"time"
)

// Transport identifies how a record arrived.
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
)

// facilities maps PRI >> 3 onto the standard syslog facility names.
var facilities = map[int]string{
	0: "kern", 1: "user", 2: "mail", 3: "daemon", 4: "auth", 5: "syslog",
	6: "lpr", 7: "news", 8: "uucp", 9: "cron", 10: "authpriv", 11: "ftp",
	12: "ntp", 13: "audit", 14: "alert", 15: "clock",
	16: "local0", 17: "local1", 18: "local2", 19: "local3",
	20: "local4", 21: "local5", 22: "local6", 23: "local7",
}

// severities maps PRI & 0x7 onto the standard syslog severity names.
var severities = map[int]string{
	0: "EMERG", 1: "ALERT", 2: "CRIT", 3: "ERROR",
	4: "WARN", 5: "NOTICE", 6: "INFO", 7: "DEBUG",
}

// Record is one captured syslog message. Records are append-only: created
// once per inbound datagram/line and never mutated.
type Record struct {
	ReceivedAt time.Time
	Transport  Transport
	Source     string
	Facility   string
	Severity   string
	Body       string
}

// Decode parses an RFC3164-style <PRI> header. Malformed input is never
// dropped: a message without a parseable header is preserved verbatim with
// facility and severity marked "unknown".
func Decode(raw []byte, transport Transport, source string) Record {
	rec := Record{
		ReceivedAt: time.Now(),
		Transport:  transport,
		Source:     source,
		Facility:   "unknown",
		Severity:   "unknown",
	}

	msg := strings.TrimSpace(string(raw))
	rec.Body = msg

	if !strings.HasPrefix(msg, "<") {
		return rec
	}
	end := strings.IndexByte(msg, '>')
	if end < 2 {
		return rec
	}
	// RFC 3164 allows at most three PRI digits; longer runs are garbage,
	// not a header.
	digits := msg[1:end]
	if len(digits) > 3 {
		return rec
	}
	pri := 0
	for _, c := range digits {
		if c < '0' || c > '9' {
			return rec
		}
		pri = pri*10 + int(c-'0')
	}

	rec.Facility = facilityName(pri >> 3)
	rec.Severity = severityName(pri & 0x7)
	rec.Body = strings.TrimSpace(msg[end+1:])
	return rec
}

func facilityName(code int) string {
	if name, ok := facilities[code]; ok {
		return name
	}
	return fmt.Sprintf("fac%d", code)
}

func severityName(code int) string {
	if name, ok := severities[code]; ok {
		return name
	}
	return fmt.Sprintf("sev%d", code)
}
