package app

// transitionResult reports whether a profile is messaging-ready and whether
// this is the first time it has been observed in that state.
type transitionResult struct {
	Ready     bool
	FirstTime bool
}

// detectTransition computes messaging readiness from the brand and campaign
// approval states. alreadyNotified is the durable gate: when it is set the
// profile has been marked ready before and FirstTime must stay false. The
// function never mutates anything; the caller owns setting the gate.
func detectTransition(brandStatus, campaignStatus string, alreadyNotified bool) transitionResult {
	ready := isApprovedStatus(brandStatus) && isApprovedStatus(campaignStatus)
	return transitionResult{
		Ready:     ready,
		FirstTime: ready && !alreadyNotified,
	}
}
