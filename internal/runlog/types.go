// Package runlog reads and writes the append-only binary record of a codemod
// run: one case describing the run followed by one job per applied file
// mutation, every record checksummed and the whole log sealed by a rolling
// checksum.
//
// Layout (big-endian):
//
//	preamble  := AA BB CC DD 01 00 00 00
//	record    := magic(4) length(u16) checksum(20) payload(length)
//	postamble := DD CC BB AA rolling_checksum(20)
//
// The rolling checksum covers every full record after the preamble.
package runlog

import (
	"errors"
	"fmt"

	"github.com/bianoble/codemod-runner/internal/digest"
)

var (
	// ErrIntegrity reports a checksum mismatch.
	ErrIntegrity = errors.New("runlog: integrity check failed")

	// ErrMalformed reports bytes that do not follow the framing layout.
	ErrMalformed = errors.New("runlog: malformed log")

	// ErrStringTooLong reports a string field longer than MaxStringLength.
	ErrStringTooLong = errors.New("runlog: string exceeds maximum length")

	// ErrRecordTooLarge reports a payload that does not fit the u16 length field.
	ErrRecordTooLarge = errors.New("runlog: record payload too large")
)

// MaxStringLength is the largest byte length of a string field.
const MaxStringLength = 16*1024 - 1

// maxPayloadLength mirrors the u16 length field with its top value reserved.
const maxPayloadLength = 0xFFFF - 1

var (
	preambleMagic  = [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	formatVersion  = [4]byte{1, 0, 0, 0}
	caseMagic      = [4]byte{0xA1, 0xB1, 0xC1, 0xD1}
	jobMagic       = [4]byte{0xA2, 0xB2, 0xC2, 0xD2}
	postambleMagic = [4]byte{0xDD, 0xCC, 0xBB, 0xAA}
)

const (
	preambleLength     = 8
	magicLength        = 4
	recordHeaderLength = 2 + digest.Size
)

// Case is the header record of a run, written exactly once at run start.
type Case struct {
	CaseDigest    digest.Digest
	CodemodDigest digest.Digest
	// CreatedAt is milliseconds since the Unix epoch.
	CreatedAt  int64
	TargetPath string
	// Arguments is the argument record the codemod ran with. A nil map is
	// written as an empty JSON object.
	Arguments map[string]any
}

// JobKind identifies which file mutation a job records.
type JobKind uint8

const (
	JobCreateFile        JobKind = 1
	JobUpdateFile        JobKind = 2
	JobMoveFile          JobKind = 3
	JobMoveAndUpdateFile JobKind = 4
	JobDeleteFile        JobKind = 5
	JobCopyFile          JobKind = 6
)

func (k JobKind) String() string {
	switch k {
	case JobCreateFile:
		return "createFile"
	case JobUpdateFile:
		return "updateFile"
	case JobMoveFile:
		return "moveFile"
	case JobMoveAndUpdateFile:
		return "moveAndUpdateFile"
	case JobDeleteFile:
		return "deleteFile"
	case JobCopyFile:
		return "copyFile"
	default:
		return fmt.Sprintf("JobKind(%d)", uint8(k))
	}
}

// fieldCount returns how many string fields follow the kind byte.
func (k JobKind) fieldCount() (int, bool) {
	switch k {
	case JobDeleteFile:
		return 1, true
	case JobCreateFile, JobUpdateFile, JobMoveFile, JobCopyFile:
		return 2, true
	case JobMoveAndUpdateFile:
		return 3, true
	default:
		return 0, false
	}
}

// Job records one applied file mutation.
//
// Field usage per kind:
//
//	createFile        Path, DataRef
//	updateFile        Path, DataRef
//	moveFile          Path (old), TargetPath (new)
//	moveAndUpdateFile Path (old), TargetPath (new), DataRef
//	deleteFile        Path
//	copyFile          Path (source), TargetPath
type Job struct {
	Digest     digest.Digest
	Kind       JobKind
	Path       string
	TargetPath string
	// DataRef locates the new content: the target path itself on wet runs,
	// the staged file on dry runs.
	DataRef string
}

func (j Job) fields() []string {
	switch j.Kind {
	case JobCreateFile, JobUpdateFile:
		return []string{j.Path, j.DataRef}
	case JobMoveFile, JobCopyFile:
		return []string{j.Path, j.TargetPath}
	case JobMoveAndUpdateFile:
		return []string{j.Path, j.TargetPath, j.DataRef}
	case JobDeleteFile:
		return []string{j.Path}
	default:
		return nil
	}
}

func jobFromFields(d digest.Digest, kind JobKind, f []string) Job {
	j := Job{Digest: d, Kind: kind}
	switch kind {
	case JobCreateFile, JobUpdateFile:
		j.Path, j.DataRef = f[0], f[1]
	case JobMoveFile, JobCopyFile:
		j.Path, j.TargetPath = f[0], f[1]
	case JobMoveAndUpdateFile:
		j.Path, j.TargetPath, j.DataRef = f[0], f[1], f[2]
	case JobDeleteFile:
		j.Path = f[0]
	}
	return j
}

// NewJob builds a job whose digest is derived from its kind and fields.
func NewJob(kind JobKind, path, targetPath, dataRef string) Job {
	j := Job{Kind: kind, Path: path, TargetPath: targetPath, DataRef: dataRef}
	parts := [][]byte{{byte(kind)}}
	for _, f := range j.fields() {
		parts = append(parts, []byte(f), []byte{0})
	}
	j.Digest = digest.Concat(parts...)
	return j
}
