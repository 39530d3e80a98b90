package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ProfileType distinguishes companion accounts from regular members. The
// backend serializes it inconsistently as "1" (string) or 1 (number), so it
// carries a tolerant unmarshaler.
type ProfileType string

const (
	ProfileMember    ProfileType = "0"
	ProfileCompanion ProfileType = "1"
)

func (p *ProfileType) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProfileType(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = ProfileType(n.String())
	return nil
}

// IsCompanion reports whether the profile is a companion account, accepting
// both the string and numeric encodings.
func (p ProfileType) IsCompanion() bool {
	if p == ProfileCompanion {
		return true
	}
	if n, err := strconv.Atoi(string(p)); err == nil {
		return n == 1
	}
	return false
}

// PlanType tags the confirmation call with the commercial meaning of the
// purchase, derived from the profile type and membership status.
type PlanType string

const (
	PlanTypeManagement PlanType = "management"
	PlanTypeCompanion  PlanType = "companion"
	PlanTypeMembership PlanType = "membership"
)

// PlanTypeFor computes the three-way plan tag:
// companion with an active membership buys management, companion without buys
// companion, everyone else buys membership.
func PlanTypeFor(profile ProfileType, hasActiveMembership bool) PlanType {
	if profile.IsCompanion() {
		if hasActiveMembership {
			return PlanTypeManagement
		}
		return PlanTypeCompanion
	}
	return PlanTypeMembership
}

// UserSessionState is the app-wide view of the signed-in user. It is mutated
// after a succeeded payment and read by the navigation resolver.
type UserSessionState struct {
	UserID              string      `json:"user_id"`
	ProfileType         ProfileType `json:"profile_type"`
	HasActiveMembership bool        `json:"has_active_membership"`
	AccountStep         int         `json:"account_step"`
}
