package domain

type Family string

const (
	FamilyDLNA       Family = "dlna"
	FamilyAirPlay    Family = "airplay"
	FamilyChromecast Family = "chromecast"
)

type CastTarget struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Family  Family `json:"family"`
}

type CastStatus string

const (
	CastIdle    CastStatus = "idle"
	CastLoading CastStatus = "loading"
	CastPlaying CastStatus = "playing"
	CastPaused  CastStatus = "paused"
	CastStopped CastStatus = "stopped"
	CastError   CastStatus = "error"
)

type CastSession struct {
	TargetID        string     `json:"target_id"`
	TargetName      string     `json:"target_name"`
	Family          Family     `json:"family"`
	StreamURL       string     `json:"stream_url"`
	Status          CastStatus `json:"status"`
	PositionSeconds float64    `json:"position_seconds"`
	DurationSeconds float64    `json:"duration_seconds"`
	LastError       string     `json:"last_error,omitempty"`
}
