package app

import "strings"

// Approval-state classes as the registry reports them. Registries are not
// consistent about casing or exact wording, so membership is checked on the
// lower-cased value.
var approvedStatuses = map[string]bool{
	"approved": true,
	"verified": true,
	"active":   true,
}

var pendingStatuses = map[string]bool{
	"pending":     true,
	"in_progress": true,
	"in_review":   true,
	"submitted":   true,
}

// scoreCampaignStatus ranks a status string by approval strength. Approved
// beats pending beats everything else (rejected, unknown, empty). The score
// is only ever compared, never stored.
func scoreCampaignStatus(status string) int {
	normalized := strings.ToLower(strings.TrimSpace(status))
	switch {
	case approvedStatuses[normalized]:
		return 2
	case pendingStatuses[normalized]:
		return 1
	default:
		return 0
	}
}

// isApprovedStatus reports whether a registry status counts as approved.
func isApprovedStatus(status string) bool {
	return approvedStatuses[strings.ToLower(strings.TrimSpace(status))]
}
