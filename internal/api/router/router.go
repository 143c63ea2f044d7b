// Package router assembles the HTTP surface: public webhooks and health,
// the staff/patient authenticated tenant API, and the admin tooling routes.
package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/carebridgehq/carebridge-platform/internal/agent"
	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/documents"
	"github.com/carebridgehq/carebridge-platform/internal/http/handlers"
	httpmiddleware "github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/internal/portal"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/internal/providers"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/internal/subscription"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	PatientsHandler     *patients.Handler
	ProvidersHandler    *providers.Handler
	SchedulingHandler   *scheduling.Handler
	InsuranceHandler    *insurance.Handler
	ClaimsHandler       *claims.Handler
	ClaimsWebhook       *claims.WebhookHandler
	DocumentsHandler    *documents.Handler
	AgentHandler        *agent.Handler
	AgentWS             *agent.WSHandler
	PortalHandler       *portal.Handler
	PracticeHandler     *practice.Handler
	SubscriptionHandler *subscription.Handler
	SubscriptionWebhook *subscription.WebhookHandler
	AdminAudit          *handlers.AdminAuditHandler

	// SubscriptionGate wraps the clinical routes; nil means no billing
	// enforcement.
	SubscriptionGate func(http.Handler) http.Handler

	// AgentRateLimit wraps the agent chat routes; nil means unlimited.
	// Chat turns cost LLM tokens, so each practice gets its own budget.
	AgentRateLimit func(http.Handler) http.Handler

	StaffJWTSecret    string
	CognitoRegion     string
	CognitoUserPoolID string
	CognitoClientID   string

	CORSAllowedOrigins []string
	MetricsHandler     http.Handler
	HTTPMetrics        *metrics.HTTPMetrics
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.HTTPMetrics != nil {
		r.Use(observeRequests(cfg.HTTPMetrics))
	}

	// Public endpoints: health, metrics, provider webhooks. Webhooks carry
	// their own signature checks.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.ClaimsWebhook != nil {
			public.Post("/webhooks/clearinghouse", cfg.ClaimsWebhook.Handle)
		}
		if cfg.SubscriptionWebhook != nil {
			public.Post("/webhooks/stripe", cfg.SubscriptionWebhook.Handle)
		}
	})

	authed := requireAuth(cfg)

	// Tenant API: staff or patient token plus the practice header. Billing
	// endpoints sit outside the subscription gate so a lapsed practice can
	// still reach checkout.
	r.Group(func(tenant chi.Router) {
		tenant.Use(authed)
		tenant.Use(requirePracticeID)

		if cfg.SubscriptionHandler != nil {
			tenant.Route("/subscription", func(sr chi.Router) {
				sr.Post("/checkout", cfg.SubscriptionHandler.Checkout)
				sr.Get("/status", cfg.SubscriptionHandler.Status)
			})
		}

		tenant.Group(func(clinical chi.Router) {
			if cfg.SubscriptionGate != nil {
				clinical.Use(cfg.SubscriptionGate)
			}

			if cfg.PatientsHandler != nil {
				clinical.Route("/patients", func(pr chi.Router) {
					pr.Post("/", cfg.PatientsHandler.Create)
					pr.Get("/", cfg.PatientsHandler.List)
					pr.Get("/{patientID}", cfg.PatientsHandler.Get)
					pr.Put("/{patientID}", cfg.PatientsHandler.Update)
					pr.Delete("/{patientID}", cfg.PatientsHandler.Archive)
					if cfg.DocumentsHandler != nil {
						pr.Post("/{patientID}/documents", cfg.DocumentsHandler.Upload)
						pr.Get("/{patientID}/documents", cfg.DocumentsHandler.List)
					}
				})
			}
			if cfg.DocumentsHandler != nil {
				clinical.Route("/documents", func(dr chi.Router) {
					dr.Get("/{documentID}", cfg.DocumentsHandler.Download)
					dr.Delete("/{documentID}", cfg.DocumentsHandler.Delete)
				})
			}
			if cfg.ProvidersHandler != nil {
				clinical.Route("/providers", func(pr chi.Router) {
					pr.Post("/", cfg.ProvidersHandler.Create)
					pr.Get("/", cfg.ProvidersHandler.List)
					pr.Get("/{providerID}", cfg.ProvidersHandler.Get)
					pr.Delete("/{providerID}", cfg.ProvidersHandler.Deactivate)
				})
			}
			if cfg.SchedulingHandler != nil {
				clinical.Route("/appointments", func(ar chi.Router) {
					ar.Post("/", cfg.SchedulingHandler.Create)
					ar.Get("/", cfg.SchedulingHandler.List)
					ar.Get("/availability", cfg.SchedulingHandler.Availability)
					ar.Get("/board", cfg.SchedulingHandler.Board)
					ar.Get("/{appointmentID}", cfg.SchedulingHandler.Get)
					ar.Put("/{appointmentID}", cfg.SchedulingHandler.Update)
					ar.Post("/{appointmentID}/cancel", cfg.SchedulingHandler.Cancel)
					ar.Post("/{appointmentID}/check-in", cfg.SchedulingHandler.CheckIn)
					ar.Post("/{appointmentID}/complete", cfg.SchedulingHandler.Complete)
					ar.Post("/{appointmentID}/no-show", cfg.SchedulingHandler.NoShow)
				})
			}
			if cfg.InsuranceHandler != nil {
				clinical.Route("/insurance", func(ir chi.Router) {
					ir.Post("/policies", cfg.InsuranceHandler.CreatePolicy)
					ir.Get("/policies", cfg.InsuranceHandler.ListPolicies)
					ir.Get("/policies/{policyID}", cfg.InsuranceHandler.GetPolicy)
					ir.Put("/policies/{policyID}", cfg.InsuranceHandler.UpdatePolicy)
					ir.Post("/policies/{policyID}/verify", cfg.InsuranceHandler.Verify)
					ir.Get("/policies/{policyID}/verifications", cfg.InsuranceHandler.ListVerifications)
					ir.Get("/verifications/{verificationID}", cfg.InsuranceHandler.GetVerification)
				})
			}
			if cfg.ClaimsHandler != nil {
				clinical.Route("/claims", func(cr chi.Router) {
					cr.Post("/", cfg.ClaimsHandler.Create)
					cr.Get("/", cfg.ClaimsHandler.List)
					cr.Get("/{claimID}", cfg.ClaimsHandler.Get)
					cr.Put("/{claimID}", cfg.ClaimsHandler.Update)
					cr.Post("/{claimID}/submit", cfg.ClaimsHandler.Submit)
					cr.Post("/{claimID}/void", cfg.ClaimsHandler.Void)
					cr.Get("/{claimID}/events", cfg.ClaimsHandler.Events)
				})
			}
			if cfg.AgentHandler != nil {
				clinical.Route("/agent", func(ag chi.Router) {
					if cfg.AgentRateLimit != nil {
						ag.Use(cfg.AgentRateLimit)
					}
					ag.Post("/chat", cfg.AgentHandler.Chat)
					ag.Post("/chat/async", cfg.AgentHandler.ChatAsync)
					ag.Get("/chat/history", cfg.AgentHandler.ChatHistory)
					ag.Get("/jobs/{jobID}", cfg.AgentHandler.Job)
					if cfg.AgentWS != nil {
						ag.Get("/chat/ws", cfg.AgentWS.HandleWebSocket)
					}
				})
			}
			if cfg.PortalHandler != nil {
				clinical.Get("/portal/summary", cfg.PortalHandler.Summary)
			}
			if cfg.PracticeHandler != nil {
				clinical.Route("/practice", func(pr chi.Router) {
					pr.Get("/settings", cfg.PracticeHandler.GetSettings)
					pr.Put("/settings", cfg.PracticeHandler.UpdateSettings)
					pr.Get("/stats", cfg.PracticeHandler.GetStats)
				})
			}
		})
	})

	// Admin routes identify the practice by URL, not header. Creating a
	// practice happens before any tenant header can exist.
	if cfg.PracticeHandler != nil || cfg.AdminAudit != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(authed)
			if cfg.PracticeHandler != nil {
				admin.Post("/practices", cfg.PracticeHandler.CreatePractice)
			}
			if cfg.AdminAudit != nil {
				admin.Get("/practices/{practiceID}/audit-events", cfg.AdminAudit.ListEvents)
			}
		})
	}

	return r
}

func requireAuth(cfg *Config) func(http.Handler) http.Handler {
	cognitoCfg := httpmiddleware.CognitoConfig{
		Region:     cfg.CognitoRegion,
		UserPoolID: cfg.CognitoUserPoolID,
		ClientID:   cfg.CognitoClientID,
	}
	if cfg.CognitoUserPoolID != "" {
		return httpmiddleware.CognitoOrStaffJWT(cognitoCfg, cfg.StaffJWTSecret)
	}
	return httpmiddleware.StaffJWT(cfg.StaffJWTSecret)
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// observeRequests records count and latency per route pattern. The pattern
// is read after the handler runs so nested mounts resolve fully.
func observeRequests(m *metrics.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			m.ObserveRequest(route, r.Method, strconv.Itoa(ww.Status()), time.Since(start).Seconds())
		})
	}
}
