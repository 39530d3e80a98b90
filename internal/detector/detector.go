// Package detector classifies navigation URLs from the embedded browser view
// during a redirect checkout.
package detector

import (
	"net/url"
	"strings"

	"payment-orchestrator/internal/common/logger"
)

// State is the detector's position in the LOADING -> {SUCCESS, CANCELLED}
// machine. LOADING self-loops on unmatched URLs.
type State string

const (
	StateLoading   State = "LOADING"
	StateSuccess   State = "SUCCESS"
	StateCancelled State = "CANCELLED"
)

// cancelMarkers are plain case-insensitive substring matches. Checked after
// the payer-identifier rule but before the path-based success patterns:
// PayPal appends useraction=cancel to the same return URL the success path
// uses, while an approved payer always carries the identifier parameter.
var cancelMarkers = []string{
	"useraction=cancel",
	"paypal/cancel",
	"payment/cancel",
	"cancel",
}

// successMarkers are substring matches kept for compatibility with the
// gateway's hosted pages, which embed these anywhere in the redirect URL.
var successMarkers = []string{
	"/payment/success",
	"/paypal/success",
	"/success",
	"/completed",
	"/approved",
}

// successSegments must match a whole path segment. "/return" as a substring
// would also hit "register-form"-style paths.
var successSegments = []string{
	"return",
	"approval-waiting",
}

// payerParams are query parameters that identify the approving payer.
var payerParams = []string{"payerid", "payer_id"}

// Classify maps a single navigation URL to a state. Pure and
// case-insensitive; unmatched URLs stay in LOADING.
func Classify(rawURL string) State {
	lower := strings.ToLower(rawURL)

	if hasPayerIdentifier(lower) {
		return StateSuccess
	}

	for _, marker := range cancelMarkers {
		if strings.Contains(lower, marker) {
			return StateCancelled
		}
	}
	for _, marker := range successMarkers {
		if strings.Contains(lower, marker) {
			return StateSuccess
		}
	}
	for _, segment := range successSegments {
		if hasPathSegment(lower, segment) {
			return StateSuccess
		}
	}

	return StateLoading
}

func hasPayerIdentifier(lower string) bool {
	u, err := url.Parse(lower)
	if err != nil {
		return false
	}
	query := u.Query()
	for _, param := range payerParams {
		if query.Get(param) != "" {
			return true
		}
	}
	return false
}

func hasPathSegment(lower, segment string) bool {
	u, err := url.Parse(lower)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(u.Path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// Detector runs the classification on every navigation event for one
// embedded browser view. Once terminal it stays terminal and halts further
// navigation.
type Detector struct {
	state  State
	logger logger.Logger
}

func New(log logger.Logger) *Detector {
	return &Detector{
		state:  StateLoading,
		logger: log.WithFields(map[string]interface{}{"component": "completion-detector"}),
	}
}

// Observe feeds one navigation URL through the machine. It returns the
// resulting state and whether the browser view may continue loading.
func (d *Detector) Observe(rawURL string) (State, bool) {
	if d.state != StateLoading {
		return d.state, false
	}

	d.state = Classify(rawURL)
	if d.state != StateLoading {
		d.logger.Info("checkout terminal state detected", map[string]interface{}{
			"state": string(d.state),
			"url":   rawURL,
		})
	}
	return d.state, d.state == StateLoading
}

// State returns the current machine state.
func (d *Detector) State() State {
	return d.state
}
