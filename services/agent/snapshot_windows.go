//go:build windows

package agent

import (
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/windows"
)

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

	var free, total, totalFree uint64
	root, err := windows.UTF16PtrFromString(`C:\`)
	if err == nil {
		if err := windows.GetDiskFreeSpaceEx(root, &free, &total, &totalFree); err == nil && total > 0 {
			snapshot["disk_total_bytes"] = total
			snapshot["disk_free_bytes"] = free
			snapshot["disk_used_pct"] = float64(total-free) / float64(total) * 100
		}
	}

	return snapshot
}
