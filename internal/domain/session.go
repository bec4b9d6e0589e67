package domain

import "time"

// ActiveStreamSession is the single in-flight stream. Values are replaced
// wholesale by the session manager and never mutated in place.
type ActiveStreamSession struct {
	SessionID         string    `json:"session_id"`
	SourceID          string    `json:"source_id"`
	Name              string    `json:"name"`
	SelectedFileIndex int       `json:"selected_file_index"`
	FileName          string    `json:"file_name"`
	FileSize          int64     `json:"file_size"`
	MimeType          string    `json:"mime_type"`
	Title             string    `json:"title,omitempty"`
	Quality           string    `json:"quality,omitempty"`
	Year              string    `json:"year,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type FileDescriptor struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

type FileListing struct {
	Files         []FileDescriptor `json:"files"`
	SelectedIndex int              `json:"selected_index"`
}

// SessionStatus is a point-in-time snapshot of the active session plus live
// torrent telemetry. Speeds are MiB/s, progress is a percentage.
type SessionStatus struct {
	Running           bool             `json:"running"`
	SessionID         string           `json:"session_id,omitempty"`
	SourceID          string           `json:"source_id,omitempty"`
	InfoHash          string           `json:"info_hash,omitempty"`
	Name              string           `json:"name,omitempty"`
	SelectedFileIndex int              `json:"selected_file_index"`
	FileName          string           `json:"file_name,omitempty"`
	FileSize          int64            `json:"file_size,omitempty"`
	Title             string           `json:"title,omitempty"`
	Quality           string           `json:"quality,omitempty"`
	Year              string           `json:"year,omitempty"`
	Progress          float64          `json:"progress"`
	Peers             int              `json:"peers"`
	DownloadSpeed     float64          `json:"download_speed"`
	UploadSpeed       float64          `json:"upload_speed"`
	Files             []FileDescriptor `json:"files,omitempty"`
	CreatedAt         time.Time        `json:"created_at,omitzero"`
}

type SubtitleTrack struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
}
