// Package navigation maps reconciled user session state to a destination
// screen. Shared by both gateways so PayPal and Stripe confirmations converge
// on the same routing.
package navigation

import "payment-orchestrator/internal/models"

// ScreenID identifies a destination screen in the client.
type ScreenID string

const (
	ScreenMemberHome         ScreenID = "member-home"
	ScreenCompanionDashboard ScreenID = "companion-dashboard"
	ScreenProfileSetup       ScreenID = "profile-setup"
	ScreenPlanSelection      ScreenID = "plan-selection"
)

// profileStepsComplete is the account step at which companion onboarding is
// finished and the dashboard becomes the landing screen.
const profileStepsComplete = 4

// Target is a destination screen plus the optional numeric step parameter
// that the profile-setup screen requires.
type Target struct {
	Screen  ScreenID `json:"screen"`
	Step    int      `json:"step,omitempty"`
	HasStep bool     `json:"has_step,omitempty"`
}

// Resolve is a pure function from user session state to the post-payment
// destination. Deterministic for identical input.
func Resolve(state models.UserSessionState) Target {
	if !state.ProfileType.IsCompanion() {
		return Target{Screen: ScreenMemberHome}
	}
	if state.AccountStep < profileStepsComplete {
		// Profile setup is the one screen that needs the step parameter.
		return Target{Screen: ScreenProfileSetup, Step: state.AccountStep, HasStep: true}
	}
	return Target{Screen: ScreenCompanionDashboard}
}

// Previous returns the screen the user came from; the cancel path lands
// there without any backend call.
func Previous() Target {
	return Target{Screen: ScreenPlanSelection}
}
