package announce

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

// Sender delivers a packet to the announcement group.
type Sender interface {
	Send(pkt []byte) error
	Close() error
}

type multicastSender struct {
	conn net.PacketConn
	pc   *ipv4.PacketConn
	dst  *net.UDPAddr
}

// NewMulticastSender opens an IPv4 UDP socket that writes to group:port with
// the given multicast TTL.
func NewMulticastSender(group string, port, ttl int) (Sender, error) {
	ip := net.ParseIP(group).To4()
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("sap group %q is not an IPv4 multicast address", group)
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("open sap socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set multicast loopback: %w", err)
	}

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &multicastSender{conn: conn, pc: pc, dst: dst}, nil
}

func (s *multicastSender) Send(pkt []byte) error {
	_, err := s.pc.WriteTo(pkt, nil, s.dst)
	return err
}

func (s *multicastSender) Close() error {
	return s.conn.Close()
}

// LocalIPv4 returns the first non-loopback IPv4 address of an interface that
// is up and multicast capable.
func LocalIPv4() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLinkLocalUnicast() {
				return ip4, nil
			}
		}
	}
	return nil, errors.New("no routable IPv4 interface")
}
