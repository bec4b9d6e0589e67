package diagnostics

import (
	"os/exec"

	"github.com/mtahle/torrent-streamer/internal/announce"
)

var (
	lookPath  = exec.LookPath
	localIPv4 = announce.LocalIPv4
)

type BinaryStatus struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

type NetworkStatus struct {
	Routable bool   `json:"routable"`
	IPv4     string `json:"ipv4,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DependencyReport covers what the transcode and announce paths need from
// the host.
type DependencyReport struct {
	Encoder            BinaryStatus  `json:"encoder"`
	Network            NetworkStatus `json:"network"`
	AllRequiredPresent bool          `json:"all_required_present"`
}

// DetectDependencies checks for the encoder binary and a routable IPv4
// address to announce from.
func DetectDependencies(encoderPath string) DependencyReport {
	if encoderPath == "" {
		encoderPath = "ffmpeg"
	}
	encoder := detectBinary(encoderPath)
	network := detectNetwork()

	return DependencyReport{
		Encoder:            encoder,
		Network:            network,
		AllRequiredPresent: encoder.Found && network.Routable,
	}
}

func detectBinary(name string) BinaryStatus {
	path, err := lookPath(name)
	if err != nil {
		return BinaryStatus{Name: name, Found: false}
	}

	return BinaryStatus{
		Name:  name,
		Found: true,
		Path:  path,
	}
}

func detectNetwork() NetworkStatus {
	ip, err := localIPv4()
	if err != nil {
		return NetworkStatus{Error: err.Error()}
	}
	return NetworkStatus{Routable: true, IPv4: ip.String()}
}
