package selector

import (
	"cmp"
	"slices"
	"strings"

	"github.com/CageChen/dfsselect/internal/fs"
)

// sortByModTime orders files by modification time, oldest first, breaking
// ties by path so repeated scans produce the same order.
func sortByModTime(files []fs.FileStatus) {
	slices.SortFunc(files, func(a, b fs.FileStatus) int {
		if c := cmp.Compare(a.ModTime, b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}

// takePrefix returns the longest prefix of sorted files whose cumulative size
// stays strictly below budget, its total size, and the modification time of
// its last file. Scanning stops at the first file that does not fit.
func takePrefix(files []fs.FileStatus, budget int64) ([]fs.FileStatus, int64, int64) {
	var total int64
	maxModTime := BeginningOfTime
	n := 0
	for _, f := range files {
		// total+size >= budget, written so it cannot overflow
		if f.Size >= budget-total {
			break
		}
		total += f.Size
		maxModTime = f.ModTime
		n++
	}
	return files[:n], total, maxModTime
}
