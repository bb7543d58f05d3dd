/**
 * @description
 * This file sets up the HTTP router for the membership service. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies middleware for logging, panic recovery, timeouts, CORS, and
 * authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the admin/marketer web UIs.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the membership service.
func Routes(h *Handlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		// Admin-only operations: payments and referral review.
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))

			r.Post("/memberships/{membershipID}/payments/flexible", h.ApplyFlexiblePaymentHandler)
			r.Post("/memberships/{membershipID}/payments/standard", h.ApplyStandardPaymentHandler)
			r.Get("/memberships/{membershipID}/payments", h.PaymentHistoryHandler)
			r.Get("/referrals", h.ListReferralsHandler)
			r.Post("/referrals/{referralID}/approve", h.ApproveReferralHandler)
			r.Post("/referrals/{referralID}/reject", h.RejectReferralHandler)
		})

		// Marketer operations.
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleMarketer))

			r.Post("/referrals", h.SubmitReferralHandler)
		})

		// Read endpoints shared by both roles.
		r.Get("/memberships/{membershipID}/status", h.MembershipStatusHandler)
		r.Get("/marketers/{marketerID}/earnings", h.MarketerEarningsHandler)
	})

	return r
}
