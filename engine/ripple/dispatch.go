package ripple

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/drizzle/common"
)

// ErrInvalidLimits is returned when the device reports a zero execution width or thread limit.
var ErrInvalidLimits = errors.New("ripple: invalid compute limits")

// ThreadDispatchConfig is the workgroup geometry used for every kernel over a field.
type ThreadDispatchConfig struct {
	// GroupsPerGrid is the number of workgroups dispatched in x, y and z.
	GroupsPerGrid [3]uint32
	// ThreadsPerGroup is the workgroup size compiled into the kernels.
	ThreadsPerGroup [3]uint32
}

// NewThreadDispatchConfig derives the dispatch geometry for a width x height field.
// Rows of a workgroup are one execution width wide, and the group holds as many rows as
// the thread limit allows. The grid rounds up so every texel gets an invocation.
//
// Parameters:
//   - limits: the device compute limits
//   - width: field width in texels
//   - height: field height in texels
//
// Returns:
//   - ThreadDispatchConfig: the geometry
//   - error: ErrInvalidLimits if the limits cannot form a workgroup
func NewThreadDispatchConfig(limits common.ComputeLimits, width, height uint32) (ThreadDispatchConfig, error) {
	ew := limits.ExecutionWidth
	if limits.MaxWorkgroupSizeX > 0 {
		ew = min(ew, limits.MaxWorkgroupSizeX)
	}
	if ew == 0 || limits.MaxThreadsPerGroup < ew {
		return ThreadDispatchConfig{}, fmt.Errorf("%w: execution width %d, max threads %d", ErrInvalidLimits, limits.ExecutionWidth, limits.MaxThreadsPerGroup)
	}

	rows := limits.MaxThreadsPerGroup / ew
	if limits.MaxWorkgroupSizeY > 0 {
		rows = min(rows, limits.MaxWorkgroupSizeY)
	}

	return ThreadDispatchConfig{
		GroupsPerGrid:   [3]uint32{common.CeilDiv(width, ew), common.CeilDiv(height, rows), 1},
		ThreadsPerGroup: [3]uint32{ew, rows, 1},
	}, nil
}

// Covers reports whether the grid launches at least one invocation per texel.
func (c ThreadDispatchConfig) Covers(width, height uint32) bool {
	return c.GroupsPerGrid[0]*c.ThreadsPerGroup[0] >= width &&
		c.GroupsPerGrid[1]*c.ThreadsPerGroup[1] >= height
}

// keySuffix names the workgroup size, so kernels compiled for different geometry never share a cache entry.
func (c ThreadDispatchConfig) keySuffix() string {
	return fmt.Sprintf("%dx%d", c.ThreadsPerGroup[0], c.ThreadsPerGroup[1])
}
