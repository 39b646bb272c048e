package defaults

const (
	// DirectFanoutMax is the audience size up to which a broadcast is
	// delivered inline; larger audiences are split into scheduled batches.
	DirectFanoutMax = 100

	fanoutBatchMin = 50
	fanoutBatchMax = 200
)

// FanoutBatchSize sizes the delivery batches for a broadcast to count peers.
//
// It grows with the audience (count/20) and clamps to [50, 200], so small
// overflows over DirectFanoutMax still get meaningful batches while huge
// rooms cannot produce batches that monopolize the loop.
func FanoutBatchSize(count int) int {
	size := count / 20
	if size < fanoutBatchMin {
		return fanoutBatchMin
	}
	if size > fanoutBatchMax {
		return fanoutBatchMax
	}
	return size
}
