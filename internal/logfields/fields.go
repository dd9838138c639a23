package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProject    = "project"
	KeyBranch     = "branch"
	KeyDCFile     = "dc_file"
	KeyFormat     = "format"
	KeyCommit     = "commit"
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyContainer  = "container_id"
	KeyPath       = "path"
	KeyTarget     = "target"
	KeyRemoteAddr = "remote_addr"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Project(p string) slog.Attr      { return slog.String(KeyProject, p) }
func Branch(b string) slog.Attr       { return slog.String(KeyBranch, b) }
func DCFile(dc string) slog.Attr      { return slog.String(KeyDCFile, dc) }
func Format(f string) slog.Attr       { return slog.String(KeyFormat, f) }
func Commit(c string) slog.Attr       { return slog.String(KeyCommit, c) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr    { return slog.String(KeyJobStatus, s) }
func Container(id string) slog.Attr   { return slog.String(KeyContainer, id) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Target(t string) slog.Attr       { return slog.String(KeyTarget, t) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
