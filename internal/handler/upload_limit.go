package handler

import "fmt"

// formatUploadLimit renders a byte budget for error messages, in MB when the
// limit is at least one megabyte and in KB below that.
func formatUploadLimit(limit int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
	)
	switch {
	case limit <= 0:
		return "0KB"
	case limit >= mb:
		return fmt.Sprintf("%dMB", limit/mb)
	case limit >= kb:
		return fmt.Sprintf("%dKB", limit/kb)
	}
	return fmt.Sprintf("%dB", limit)
}
