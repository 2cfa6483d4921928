package domain

import (
	"errors"
	"time"
)

var (
	ErrSourceNotFound = errors.New("source directory not found")
	ErrOptimize       = errors.New("image optimization failed")
)

// CandidateFile is the newest image found in the source directory.
type CandidateFile struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
}

// ProcessedFile is the file chosen for upload. Resized is true when the
// optimizer created it, in which case it must be removed after the upload.
type ProcessedFile struct {
	Path    string `json:"path"`
	Resized bool   `json:"resized"`
	Size    int64  `json:"size"`
}

type Outcome string

const (
	OutcomeUploaded     Outcome = "uploaded"
	OutcomeUploadFailed Outcome = "upload_failed"
	OutcomeNoImage      Outcome = "no_image"
	OutcomeStale        Outcome = "stale"
)

type RunResult struct {
	Outcome       Outcome        `json:"outcome"`
	Candidate     *CandidateFile `json:"candidate,omitempty"`
	Processed     *ProcessedFile `json:"processed,omitempty"`
	UploadSuccess bool           `json:"upload_success"`
	ArchiveKey    string         `json:"archive_key,omitempty"`
}
