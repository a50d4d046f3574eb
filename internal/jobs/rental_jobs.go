package jobs

// ExpireStaleRequests cancels requests the lender never answered
func (jr *JobRunner) ExpireStaleRequests() {
	jr.runWithRecovery("ExpireStaleRequests", jr.settlement.ExpireStaleRequests)
}

// SettleReturnedRentals refunds deposit remainders and pays lenders once the claim window closes
func (jr *JobRunner) SettleReturnedRentals() {
	jr.runWithRecovery("SettleReturnedRentals", jr.settlement.SettleReturned)
}

// ReleaseCancelledHolds voids authorizations left on cancelled rentals
func (jr *JobRunner) ReleaseCancelledHolds() {
	jr.runWithRecovery("ReleaseCancelledHolds", jr.settlement.ReleaseCancelledHolds)
}
