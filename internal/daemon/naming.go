package daemon

import (
	"fmt"
	"strings"
)

// buildInfoPath is where the build metadata file is staged inside the
// container before it is appended to the archive.
const buildInfoPath = "/tmp/build_info.json"

// ArtifactName derives the archive file name for a successful build:
// the job's start time, the DC file without its "DC-" prefix, and the format
// with underscores flattened to dashes.
func ArtifactName(timeStarted int64, dcFile, format string) string {
	doc := strings.TrimPrefix(dcFile, "DC-")
	return fmt.Sprintf("%d_%s_%s.tar.gz", timeStarted, doc, strings.ReplaceAll(format, "_", "-"))
}

// FailureLogName derives the log file name for a failed build. The full DC
// file name is kept so logs sort next to their configuration entry.
func FailureLogName(dcFile, format string, timeStarted int64) string {
	return fmt.Sprintf("build_fail_%s_%s_%d.log", dcFile, format, timeStarted)
}
