package service

import (
	"time"

	"github.com/noah-isme/gema-assess-api/internal/models"
)

// DefaultInactivityTimeout is the gap after which an ACTIVE session expires.
const DefaultInactivityTimeout = 30 * time.Minute

// ReconcileExpiry returns the session as it should be seen at now. An ACTIVE session whose
// last activity is more than threshold ago comes back EXPIRED with expired set; every other
// session is returned unchanged.
func ReconcileExpiry(session models.Session, now time.Time, threshold time.Duration) (models.Session, bool) {
	if session.Status != models.SessionStatusActive || session.LastActivityAt == nil {
		return session, false
	}
	if now.Sub(*session.LastActivityAt) <= threshold {
		return session, false
	}

	session.Status = models.SessionStatusExpired
	return session, true
}
