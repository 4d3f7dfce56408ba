package selector

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/CageChen/dfsselect/internal/fs"
)

// BeginningOfTime is the watermark used when no checkpoint exists yet.
const BeginningOfTime int64 = math.MinInt64

// ParseCheckpoint decodes a checkpoint string into epoch milliseconds. An
// absent checkpoint means the beginning of time; anything that is not a
// base-10 integer is rejected.
func ParseCheckpoint(checkpoint *string) (int64, error) {
	if checkpoint == nil {
		return BeginningOfTime, nil
	}
	v, err := strconv.ParseInt(*checkpoint, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidCheckpoint, *checkpoint, err)
	}
	return v, nil
}

// FormatCheckpoint encodes a watermark as a checkpoint string.
func FormatCheckpoint(v int64) string {
	return strconv.FormatInt(v, 10)
}

// resolveCheckpoint pairs the comma-joined batch paths with the next
// checkpoint. An empty batch keeps the caller's checkpoint unchanged.
func resolveCheckpoint(batch []fs.FileStatus, maxModTime int64, last *string) (*string, string) {
	if len(batch) == 0 {
		if last != nil {
			return nil, *last
		}
		return nil, FormatCheckpoint(BeginningOfTime)
	}

	paths := make([]string, len(batch))
	for i, f := range batch {
		paths[i] = f.Path
	}
	joined := strings.Join(paths, ",")
	return &joined, FormatCheckpoint(maxModTime)
}
