package schedule

import (
	"time"

	"github.com/packcycle/packcycle/internal/models"
)

// ResolveStatus maps a stored package status and its delivery date to the
// effective, display-ready status at the clock's current instant.
//
// Terminal stored statuses pass through untouched. A pending record whose
// delivery date has passed resolves to overdue; the overdue state is a view
// concern only and is never written back to storage, so rolling a simulated
// clock backwards immediately restores the pending view.
func ResolveStatus(status models.PackageStatus, deliveryDate time.Time, clock Clock) models.PackageStatus {
	if status.Terminal() {
		return status
	}
	if status == models.PackagePending && clock.Now().After(deliveryDate) {
		return models.PackageOverdue
	}
	return status
}

// DueWithin reports whether a pending package becomes due inside the window
// starting at the clock's current instant. Already-lapsed records are not
// "upcoming".
func DueWithin(deliveryDate time.Time, clock Clock, window time.Duration) bool {
	now := clock.Now()
	return deliveryDate.After(now) && !deliveryDate.After(now.Add(window))
}
