package procstatus

import "github.com/breeze-rmm/procstatus/internal/procscan"

// Status levels before masking.
const (
	StatusNone     uint32 = 1 // no matching process
	StatusUnique   uint32 = 2 // exactly one
	StatusMultiple uint32 = 3 // two or more
)

// AllBits is the mask that leaves the status code untouched.
const AllBits uint32 = 0xFFFFFFFF

// Snapshot holds the three derived values of one scan.
type Snapshot struct {
	Status uint32 `json:"status"`
	Count  int    `json:"count"`
	PID    int    `json:"pid"`
}

// StatusCode saturates count at 2 and offsets it by one: 0 -> 1, 1 -> 2,
// 2+ -> 3.
func StatusCode(count int) uint32 {
	return uint32(min(max(count, 0), 2)) + 1
}

// Reduce converts a scan result into the values a polling host reads. The
// pid is only reported when the match is unique.
func Reduce(res procscan.Result, mask uint32) Snapshot {
	snap := Snapshot{
		Status: StatusCode(res.Count) & mask,
		Count:  res.Count,
	}
	if res.Count == 1 {
		snap.PID = res.LastPID
	}
	return snap
}
