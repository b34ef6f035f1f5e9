// Package objectkey derives the logical segments of a structured S3 key of
// the canonical shape patient/<patientId>/source_data/<dataId>/<uploadDataName>[/<fileName>].
package objectkey

import "strings"

// Parse returns the uploadDataName and fileName segments of key. A
// folder-form key (trailing slash) yields an empty fileName. A key that is
// empty or not of the canonical shape (six segments, or five plus a
// trailing slash, starting with "patient" and with "source_data" as the
// third segment) yields empty strings for both — never an error.
func Parse(key string) (uploadDataName, fileName string) {
	if key == "" {
		return "", ""
	}

	trimmed := strings.TrimSuffix(key, "/")
	if trimmed == "" {
		return "", ""
	}

	segments := strings.Split(trimmed, "/")

	wantSegments := 6
	if strings.HasSuffix(key, "/") {
		wantSegments = 5
	}
	if len(segments) != wantSegments || segments[0] != "patient" || segments[2] != "source_data" {
		return "", ""
	}

	if strings.HasSuffix(key, "/") {
		// Folder-form key: the trailing file segment is absent.
		uploadDataName = segments[len(segments)-1]
		return uploadDataName, ""
	}

	fileName = segments[len(segments)-1]
	uploadDataName = segments[len(segments)-2]
	return uploadDataName, fileName
}

// ParentDir returns the parent-directory form of a full object key: every
// segment up to and including the last slash. Used to derive confirmBatch's
// objectKey for multi-file groups.
func ParentDir(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}
	return key[:idx+1]
}

// DataIDOf splits an upload-id at the first reserved separator ("_"),
// returning the dataId prefix. Uploads ids are constructed as
// <dataId>_<microsecondTimestamp>; the separator is reserved and must not
// appear in a bare dataId the caller expects to recover losslessly.
func DataIDOf(uploadID string) string {
	idx := strings.Index(uploadID, "_")
	if idx < 0 {
		return uploadID
	}
	return uploadID[:idx]
}
