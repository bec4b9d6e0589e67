package announce

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/mtahle/torrent-streamer/internal/domain"
)

// Kind selects the SAP message type.
type Kind byte

const (
	KindAnnounce Kind = 0x20 // V=1, IPv4, announce
	KindDelete   Kind = 0x24 // V=1, IPv4, deletion
)

func (k Kind) String() string {
	if k == KindDelete {
		return "delete"
	}
	return "announce"
}

const sdpMIME = "application/sdp"

// Description is the input to BuildSDP.
type Description struct {
	SessionID uint64
	Version   uint64
	Origin    net.IP
	Title     string
	Info      string
	Address   string
	Port      int
	TTL       int
	Protocol  domain.Protocol
}

// BuildSDP renders an always-on broadcast session description.
func BuildSDP(d Description) []byte {
	title := sanitizeLine(d.Title)
	if title == "" {
		title = "torrent-streamer"
	}
	info := sanitizeLine(d.Info)
	if info == "" {
		info = title
	}

	lines := []string{
		"v=0",
		fmt.Sprintf("o=- %d %d IN IP4 %s", d.SessionID, d.Version, d.Origin.To4()),
		"s=" + title,
		"i=" + info,
		fmt.Sprintf("c=IN IP4 %s/%d", d.Address, d.TTL),
		"t=0 0",
		"a=tool:torrent-streamer",
		"a=type:broadcast",
	}
	switch d.Protocol {
	case domain.ProtocolUDP:
		lines = append(lines, fmt.Sprintf("m=video %d udp mpeg", d.Port))
	default:
		lines = append(lines,
			fmt.Sprintf("m=video %d RTP/AVP 96", d.Port),
			"a=rtpmap:96 H264/90000",
		)
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

// BuildPacket frames an SDP payload as a SAP packet (RFC 2974) with no
// authentication data.
func BuildPacket(kind Kind, msgID uint16, origin net.IP, sdp []byte) ([]byte, error) {
	ip4 := origin.To4()
	if ip4 == nil {
		return nil, errors.New("sap origin must be an IPv4 address")
	}
	if kind != KindAnnounce && kind != KindDelete {
		return nil, fmt.Errorf("unknown sap message kind 0x%02x", byte(kind))
	}

	pkt := make([]byte, 0, 8+len(sdpMIME)+1+len(sdp))
	pkt = append(pkt, byte(kind), 0)
	pkt = binary.BigEndian.AppendUint16(pkt, msgID)
	pkt = append(pkt, ip4...)
	pkt = append(pkt, sdpMIME...)
	pkt = append(pkt, 0)
	pkt = append(pkt, sdp...)
	return pkt, nil
}

func sanitizeLine(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
}
