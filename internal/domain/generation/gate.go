package generation

import "github.com/maytees/homifyai-sub000/internal/types"

// Evaluate decides whether a generation may proceed. It has no side effects; the debit that
// follows a successful generation re-checks the same condition atomically.
func Evaluate(ent types.Entitlement) types.GateDecision {
	if !ent.EmailVerified {
		return types.GateDecision{Outcome: types.GateDeny, Reason: types.DenyEmailNotVerified}
	}

	isPro := ent.IsPro()
	switch {
	case !isPro && ent.Credits <= 0:
		return types.GateDecision{Outcome: types.GateDeny, Reason: types.DenyNoCredits}
	case isPro && ent.Credits <= 0:
		return types.GateDecision{Outcome: types.GateAllowWithOverage}
	default:
		return types.GateDecision{Outcome: types.GateAllow}
	}
}
