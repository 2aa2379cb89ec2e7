// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldJobType   = "job_type"
	FieldVideoUID  = "video_uid"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Media / storage fields
	FieldPath        = "path"
	FieldURL         = "url"
	FieldLocation    = "location"
	FieldDriveFileID = "drive_file_id"
	FieldBytes       = "bytes"
	FieldItems       = "items"
)
