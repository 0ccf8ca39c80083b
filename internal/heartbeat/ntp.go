package heartbeat

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// ntpEpochOffset is the seconds between the NTP epoch (1900) and Unix (1970).
const ntpEpochOffset = 2208988800

// ntpTime asks an NTP server for the current time in one SNTP round trip.
// Only the server transmit timestamp is read; at the skew tolerance the
// heartbeat enforces, round-trip correction is noise.
func ntpTime(ctx context.Context, server string) (time.Time, error) {
	if server == "" {
		return time.Time{}, fmt.Errorf("no ntp server configured")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(server, "123"))
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp dial: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetDeadline(deadline)

	// Client request: leap 0, version 4, mode 3.
	req := make([]byte, 48)
	req[0] = 0x23
	if _, err := conn.Write(req); err != nil {
		return time.Time{}, fmt.Errorf("ntp write: %w", err)
	}

	resp := make([]byte, 48)
	n, err := conn.Read(resp)
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp read: %w", err)
	}
	if n < 48 {
		return time.Time{}, fmt.Errorf("ntp response truncated at %d bytes", n)
	}

	secs := binary.BigEndian.Uint32(resp[40:44])
	frac := binary.BigEndian.Uint32(resp[44:48])
	if secs == 0 {
		return time.Time{}, fmt.Errorf("ntp response missing transmit timestamp")
	}
	nanos := int64(secs-ntpEpochOffset)*int64(time.Second) + (int64(frac)*int64(time.Second))>>32
	return time.Unix(0, nanos), nil
}
