package workload

// Share returns rank's part of a total file budget split across size
// workers. The first total%size ranks take one extra file, so the shares
// always sum to total
func Share(total uint64, size, rank int) uint64 {
	n := uint64(size)
	share := total / n
	if uint64(rank) < total%n {
		share++
	}
	return share
}
