package datasetpool

// ResetSingletonForTest tears down the process-wide pool between test
// cases so they don't observe each other's state.
func ResetSingletonForTest() {
	resetSingletonForTest()
}
