package subscription

import (
	"errors"
	"net/http"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// RequireActiveSubscription gates tenant routes on billing state. With
// enforce false it is a pass-through, so fresh deployments and trials
// work before Stripe is wired up. A past_due practice keeps access while
// Stripe runs its retry schedule; only cancelled or absent subscriptions
// are blocked.
func RequireActiveSubscription(subs subscriptionReader, enforce bool, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enforce || subs == nil {
				next.ServeHTTP(w, r)
				return
			}

			practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
			if !ok {
				http.Error(w, `{"error":"missing practice context"}`, http.StatusBadRequest)
				return
			}

			sub, err := subs.GetByPractice(r.Context(), practiceID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					writePaymentRequired(w)
					return
				}
				// Billing lookup trouble must not take the product down.
				logger.Error("subscription check failed, allowing request", "error", err, "practice_id", practiceID)
				next.ServeHTTP(w, r)
				return
			}

			switch sub.Status {
			case StatusActive, StatusPastDue:
				next.ServeHTTP(w, r)
			default:
				writePaymentRequired(w)
			}
		})
	}
}

func writePaymentRequired(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	w.Write([]byte(`{"error":"active subscription required"}`))
}
