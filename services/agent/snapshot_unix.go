//go:build !windows

package agent

import (
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// buildSnapshot collects the health facts reported alongside job activity so
// the audit trail shows machine state around each action.
func buildSnapshot() map[string]any {
	hostname, _ := os.Hostname()

	snapshot := map[string]any{
		"hostname":   hostname,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"num_cpu":    runtime.NumCPU(),
		"go_version": runtime.Version(),
		"taken_at":   time.Now().UTC().Format(time.RFC3339),
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		snapshot["kernel"] = unix.ByteSliceToString(uts.Release[:])
	}

	var stat unix.Statfs_t
	if err := unix.Statfs("/", &stat); err == nil && stat.Blocks > 0 {
		total := stat.Blocks * uint64(stat.Bsize)
		free := stat.Bavail * uint64(stat.Bsize)
		snapshot["disk_total_bytes"] = total
		snapshot["disk_free_bytes"] = free
		snapshot["disk_used_pct"] = float64(total-free) / float64(total) * 100
	}

	return snapshot
}
