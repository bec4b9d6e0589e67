package go2tv

import (
	"context"

	"github.com/mtahle/torrent-streamer/internal/adapters"
	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
)

// Bundle wires all external go2tv-backed adapters in one place.
type Bundle struct {
	Discovery       adapters.Discovery
	CastFactory     adapters.CastFactory
	DLNAFactory     adapters.DLNAFactory
	CallbackServers adapters.CallbackServerFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:       DiscoveryAdapter{},
		CastFactory:     CastFactory{},
		DLNAFactory:     DLNAFactory{},
		CallbackServers: CallbackServerFactory{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return castClient{client}, nil
}

// castClient forwards to the go2tv client; the embedded pointer supplies
// every adapters.CastClient method.
type castClient struct {
	*castprotocol.CastClient
}

type DLNAFactory struct{}

func (DLNAFactory) NewTVPayload(o *soapcalls.Options) (adapters.DLNAPayload, error) {
	payload, err := soapcalls.NewTVPayload(o)
	if err != nil {
		return nil, err
	}
	return &dlnaPayload{payload: payload}, nil
}

type dlnaPayload struct {
	payload *soapcalls.TVPayload
}

func (d *dlnaPayload) SendtoTV(action string) error {
	return d.payload.SendtoTV(action)
}

func (d *dlnaPayload) SeekSoapCall(reltime string) error {
	return d.payload.SeekSoapCall(reltime)
}

func (d *dlnaPayload) SetVolumeSoapCall(level string) error {
	return d.payload.SetVolumeSoapCall(level)
}

func (d *dlnaPayload) GetTransportInfo() ([]string, error) {
	return d.payload.GetTransportInfo()
}

func (d *dlnaPayload) GetPositionInfo() ([]string, error) {
	return d.payload.GetPositionInfo()
}

func (d *dlnaPayload) ListenAddress() string {
	return d.payload.ListenAddress()
}

func (d *dlnaPayload) SetContext(ctx context.Context) {
	d.payload.SetContext(ctx)
}

func (d *dlnaPayload) MediaURL() string {
	return d.payload.MediaURL
}

func (d *dlnaPayload) SetMediaURL(mediaURL string) {
	d.payload.MediaURL = mediaURL
}

func (d *dlnaPayload) SetSubtitlesURL(subtitlesURL string) {
	d.payload.SubtitlesURL = subtitlesURL
}

func (d *dlnaPayload) RawPayload() *soapcalls.TVPayload {
	return d.payload
}

type CallbackServerFactory struct{}

func (CallbackServerFactory) New(addr string) adapters.CallbackServer {
	return httphandlers.NewServer(addr)
}

var (
	_ adapters.Discovery             = DiscoveryAdapter{}
	_ adapters.CastFactory           = CastFactory{}
	_ adapters.DLNAFactory           = DLNAFactory{}
	_ adapters.CallbackServerFactory = CallbackServerFactory{}
	_ adapters.CastClient            = castClient{}
)
