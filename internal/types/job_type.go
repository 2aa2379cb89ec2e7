// SPDX-License-Identifier: MIT

package types

import (
	"encoding/json"
	"fmt"
)

// JobType identifies the kind of work a background job performs.
//
// Each type maps to exactly one task constructor in the job engine's
// dispatch table; unknown types are rejected at submission time.
type JobType string

// Job type constants define all dispatchable background operations.
const (
	// JobTypeDownload fetches media from a URL into the downloads root.
	JobTypeDownload JobType = "download"

	// JobTypeDriveUpload uploads a single local video plus sidecars to Drive.
	JobTypeDriveUpload JobType = "drive_upload"

	// JobTypeDriveUploadBatch uploads every local-only video to Drive.
	JobTypeDriveUploadBatch JobType = "drive_upload_batch"

	// JobTypeDriveDownload downloads a single Drive video to local storage.
	JobTypeDriveDownload JobType = "drive_download"

	// JobTypeDriveDownloadBatch downloads every drive-only video.
	JobTypeDriveDownloadBatch JobType = "drive_download_batch"

	// JobTypeDriveCleanup removes empty Drive folders left behind by deletes.
	JobTypeDriveCleanup JobType = "drive_cleanup"

	// JobTypeCatalogPublish generates and uploads the Drive catalog snapshot.
	JobTypeCatalogPublish JobType = "catalog_publish"

	// JobTypeCatalogImport replaces drive rows from the published snapshot.
	JobTypeCatalogImport JobType = "catalog_import"

	// JobTypeCatalogRebuild relists the Drive library and rebuilds drive rows.
	JobTypeCatalogRebuild JobType = "catalog_rebuild"
)

// String returns the string representation of the job type.
func (t JobType) String() string {
	return string(t)
}

// IsValid checks whether the job type is one of the defined constants.
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeDownload,
		JobTypeDriveUpload, JobTypeDriveUploadBatch,
		JobTypeDriveDownload, JobTypeDriveDownloadBatch,
		JobTypeDriveCleanup,
		JobTypeCatalogPublish, JobTypeCatalogImport, JobTypeCatalogRebuild:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler for JobType.
func (t JobType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// UnmarshalJSON implements json.Unmarshaler for JobType.
func (t *JobType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	jt := JobType(str)
	if !jt.IsValid() {
		return fmt.Errorf("invalid job type: %q", str)
	}

	*t = jt
	return nil
}

// ParseJobType parses a string into a JobType, returning an error if invalid.
func ParseJobType(s string) (JobType, error) {
	jt := JobType(s)
	if !jt.IsValid() {
		return "", fmt.Errorf("invalid job type: %q", s)
	}
	return jt, nil
}

// AllJobTypes returns all defined job types.
func AllJobTypes() []JobType {
	return []JobType{
		JobTypeDownload,
		JobTypeDriveUpload,
		JobTypeDriveUploadBatch,
		JobTypeDriveDownload,
		JobTypeDriveDownloadBatch,
		JobTypeDriveCleanup,
		JobTypeCatalogPublish,
		JobTypeCatalogImport,
		JobTypeCatalogRebuild,
	}
}
