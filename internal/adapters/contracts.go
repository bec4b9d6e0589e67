package adapters

import (
	"context"
	"io"
	"time"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
)

// TorrentEngine resolves a source reference (magnet URI or .torrent path)
// into a readable file set.
type TorrentEngine interface {
	// Identify returns the opaque identity of ref without resolving it.
	Identify(ref string) (string, error)
	// Resolve blocks until metadata is available or ctx is done.
	Resolve(ctx context.Context, ref string) (Source, error)
	Close() error
}

// Source is one resolved torrent.
type Source interface {
	ID() string
	Name() string
	Files() []SourceFile
	Stats() SourceStats
	// Close releases the handle and stops transfer.
	Close() error
}

// SourceFile is one file inside a Source.
type SourceFile interface {
	Index() int
	Name() string
	Size() int64
	Select()
	Deselect()
	// NewRangeReader opens a reader over [start, end] inclusive; a negative
	// end reads to EOF. The reader stops when ctx is done.
	NewRangeReader(ctx context.Context, start, end int64) (io.ReadCloser, error)
}

// SourceStats is live transfer telemetry. Rates are bytes per second.
type SourceStats struct {
	InfoHash      string
	BytesVerified int64
	TotalBytes    int64
	Peers         int
	DownloadRate  float64
	UploadRate    float64
}

// Discovery provides LAN hardware discovery primitives.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// AirPlayService is one AirPlay receiver seen on the LAN.
type AirPlayService struct {
	Name string
	Host string
	Port int
}

// AirPlayBrowser browses mDNS for AirPlay receivers.
type AirPlayBrowser interface {
	Browse(ctx context.Context, timeout time.Duration) ([]AirPlayService, error)
}

// CastClient represents a controllable Chromecast session.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Play() error
	Pause() error
	Seek(seconds int) error
	SetVolume(level float32) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

// CastFactory creates CastClient instances.
type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}

// DLNAPayload represents a DLNA control channel.
type DLNAPayload interface {
	SendtoTV(action string) error
	SeekSoapCall(reltime string) error
	SetVolumeSoapCall(level string) error
	GetTransportInfo() ([]string, error)
	GetPositionInfo() ([]string, error)
	ListenAddress() string
	SetContext(ctx context.Context)
	MediaURL() string
	SetMediaURL(mediaURL string)
	SetSubtitlesURL(subtitlesURL string)
	RawPayload() *soapcalls.TVPayload
}

// DLNAFactory creates DLNA payload/controller instances.
type DLNAFactory interface {
	NewTVPayload(o *soapcalls.Options) (DLNAPayload, error)
}

// CallbackServer receives UPnP event callbacks from a renderer.
type CallbackServer interface {
	StartServer(serverStarted chan<- error, media, subtitles any, tvpayload *soapcalls.TVPayload, screen httphandlers.Screen)
	StopServer()
}

// CallbackServerFactory creates CallbackServer instances bound to addr.
type CallbackServerFactory interface {
	New(addr string) CallbackServer
}
