// Package torrent implements the torrent engine collaborator on top of
// anacrolix/torrent.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/mtahle/torrent-streamer/internal/adapters"
	"github.com/rs/zerolog"
)

const readahead = 16 << 20

type Config struct {
	DataDir    string
	NoUpload   bool
	ListenPort int
}

// Engine owns one anacrolix client shared by every resolved source.
type Engine struct {
	client *torrent.Client
	logger zerolog.Logger
}

func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	tcfg := torrent.NewDefaultClientConfig()
	tcfg.DataDir = cfg.DataDir
	tcfg.NoUpload = cfg.NoUpload
	tcfg.Seed = false
	tcfg.ListenPort = cfg.ListenPort

	client, err := torrent.NewClient(tcfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	return &Engine{client: client, logger: logger}, nil
}

// Identify returns the info-hash of a magnet URI or .torrent file.
func (e *Engine) Identify(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty source reference")
	}
	if strings.HasPrefix(ref, "magnet:") {
		m, err := metainfo.ParseMagnetURI(ref)
		if err != nil {
			return "", fmt.Errorf("parse magnet: %w", err)
		}
		if m.InfoHash == (metainfo.Hash{}) {
			return "", errors.New("magnet has no btih info-hash")
		}
		return m.InfoHash.HexString(), nil
	}
	mi, err := metainfo.LoadFromFile(ref)
	if err != nil {
		return "", fmt.Errorf("load torrent file: %w", err)
	}
	return mi.HashInfoBytes().HexString(), nil
}

func (e *Engine) Resolve(ctx context.Context, ref string) (adapters.Source, error) {
	ref = strings.TrimSpace(ref)
	var (
		t   *torrent.Torrent
		err error
	)
	if strings.HasPrefix(ref, "magnet:") {
		t, err = e.client.AddMagnet(ref)
	} else {
		t, err = e.client.AddTorrentFromFile(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("add torrent: %w", err)
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		t.Drop()
		return nil, ctx.Err()
	}

	src := newSource(t)
	e.logger.Info().
		Str("source_id", t.InfoHash().HexString()).
		Str("name", t.Name()).
		Int("files", len(src.files)).
		Msg("torrent_resolved")
	return src, nil
}

func (e *Engine) Close() error {
	return errors.Join(e.client.Close()...)
}

var _ adapters.TorrentEngine = (*Engine)(nil)
