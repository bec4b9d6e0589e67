package transcode

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Low-latency x264 settings shared by both outputs.
var videoArgs = []string{"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency"}

func rtpArgs(dest destination) []string {
	args := []string{"-hide_banner", "-re", "-i", "pipe:0", "-map", "0:v:0", "-an"}
	args = append(args, videoArgs...)
	q := url.Values{}
	if dest.multicast && dest.ttl > 0 {
		q.Set("ttl", strconv.Itoa(dest.ttl))
	}
	return append(args, "-f", "rtp", outputURL("rtp", dest, q))
}

func udpArgs(dest destination, title string) []string {
	args := []string{"-hide_banner", "-re", "-i", "pipe:0", "-map", "0:v:0?", "-map", "0:a:0?"}
	args = append(args, videoArgs...)
	args = append(args, "-c:a", "aac", "-b:a", "128k")
	if title != "" {
		args = append(args, "-metadata", "service_name="+title)
	}
	q := url.Values{}
	q.Set("pkt_size", "1316")
	if dest.ttl > 0 {
		q.Set("ttl", strconv.Itoa(dest.ttl))
	}
	return append(args, "-f", "mpegts", outputURL("udp", dest, q))
}

func outputURL(scheme string, dest destination, q url.Values) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(dest.address, strconv.Itoa(dest.port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}

type destination struct {
	address   string
	port      int
	multicast bool
	ttl       int
}

func (d destination) String() string {
	return fmt.Sprintf("%s:%d", d.address, d.port)
}
