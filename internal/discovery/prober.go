package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// UDPProber verifies a candidate by sending the same lightweight
// "battery?" text command RealDroneAdapter uses for keepalive and parsing a
// numeric reply. An optional ICMP echo is tried first as a cheap filter to
// avoid wasting the UDP round trip on hosts that are not up at all; ICMP
// failure (e.g. no raw-socket privilege) is never fatal, only advisory.
type UDPProber struct {
	CommandPort int // default 8889, Tello-SDK-style control port
	ICMPPreProbe bool
}

func NewUDPProber(commandPort int, icmpPreProbe bool) *UDPProber {
	if commandPort <= 0 {
		commandPort = 8889
	}
	return &UDPProber{CommandPort: commandPort, ICMPPreProbe: icmpPreProbe}
}

func (p *UDPProber) Probe(ctx context.Context, ip string, timeout time.Duration) (int, int, error) {
	if p.ICMPPreProbe && !icmpReachable(ip, timeout/2) {
		return 0, 0, fmt.Errorf("icmp pre-probe: %s unreachable", ip)
	}

	addr := fmt.Sprintf("%s:%d", ip, p.CommandPort)
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		return 0, 0, err
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte("command")); err != nil {
		return 0, 0, err
	}
	ackBuf := make([]byte, 64)
	if _, err := conn.Read(ackBuf); err != nil {
		return 0, 0, err
	}

	if _, err := conn.Write([]byte("battery?")); err != nil {
		return 0, 0, err
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, 0, err
	}
	battery := parseLeadingInt(string(buf[:n]))
	return battery, estimateSignal(ip), nil
}

func parseLeadingInt(s string) int {
	s = strings.TrimSpace(s)
	v := 0
	any := false
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		v = v*10 + int(r-'0')
		any = true
	}
	if !any {
		return 0
	}
	return v
}

// estimateSignal is a placeholder until a real RSSI source is wired; -1
// tells callers "unknown" rather than fabricating a plausible-looking value.
func estimateSignal(ip string) int {
	return -1
}

// icmpReachable sends one ICMP echo and waits at most timeout for any reply.
// Returns true on any error opening the raw socket (e.g. missing
// CAP_NET_RAW) so probing degrades to UDP-only rather than failing closed.
func icmpReachable(ip string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return true
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: int(time.Now().UnixNano() & 0xffff), Seq: 1, Data: []byte("fleetctl-probe")},
	}
	data, err := msg.Marshal(nil)
	if err != nil {
		return true
	}
	dst, err := net.ResolveIPAddr("ip4", ip)
	if err != nil {
		return true
	}
	if _, err := conn.WriteTo(data, dst); err != nil {
		return true
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	reply := make([]byte, 512)
	n, _, err := conn.ReadFrom(reply)
	if err != nil {
		return false
	}
	parsed, err := icmp.ParseMessage(1, reply[:n])
	if err != nil {
		return true
	}
	return parsed.Type == ipv4.ICMPTypeEchoReply
}
