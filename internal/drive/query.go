// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package drive

import (
	"fmt"
	"strings"
)

const folderMimeType = "application/vnd.google-apps.folder"

// EscapeName escapes a file or folder name for use inside a Drive
// query string literal. Backslashes are doubled first so a name ending
// in a backslash cannot swallow the quote that follows it.
func EscapeName(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	return strings.ReplaceAll(name, `'`, `\'`)
}

// folderQuery matches a non-trashed subfolder by name under parentID.
func folderQuery(parentID, name string) string {
	return fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		EscapeName(name), folderMimeType, parentID)
}

// fileQuery matches a non-trashed regular file by name under parentID.
func fileQuery(parentID, name string) string {
	return fmt.Sprintf("name = '%s' and mimeType != '%s' and '%s' in parents and trashed = false",
		EscapeName(name), folderMimeType, parentID)
}

// childrenQuery matches every non-trashed child of parentID.
func childrenQuery(parentID string) string {
	return fmt.Sprintf("'%s' in parents and trashed = false", parentID)
}
