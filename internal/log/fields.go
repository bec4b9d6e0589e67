package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"

	FieldSessionID      = "session_id"
	FieldSourceID       = "source_id"
	FieldFileIndex      = "file_index"
	FieldStreamID       = "stream_id"
	FieldDeviceID       = "device_id"
	FieldFamily         = "family"
	FieldAction         = "action"
	FieldAnnouncementID = "announcement_id"

	FieldOldState = "old_state"
	FieldNewState = "new_state"

	FieldDestination = "destination"
	FieldRange       = "range"
	FieldRequestID   = "request_id"
)
