package util

import "fmt"

func Human(n int64) string {
	switch {
	case n >= 1<<40:
		return fmt.Sprintf("%.2f TB", float64(n)/(1<<40))
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// DirSize sums the sizes of the given files, ignoring ones that vanished.
func DirSize(files []string) int64 {
	var total int64
	for _, f := range files {
		if st, err := statFile(f); err == nil {
			total += st
		}
	}
	return total
}
