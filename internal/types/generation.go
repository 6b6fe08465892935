package types

// GateOutcome is the decision of the generation gate.
type GateOutcome int

const (
	GateAllow GateOutcome = iota
	GateAllowWithOverage
	GateDeny
)

func (o GateOutcome) String() string {
	switch o {
	case GateAllow:
		return "allow"
	case GateAllowWithOverage:
		return "allow_with_overage"
	case GateDeny:
		return "deny"
	default:
		return "unknown"
	}
}

// Deny reasons reported as machine codes.
const (
	DenyEmailNotVerified = "EMAIL_NOT_VERIFIED"
	DenyNoCredits        = "NO_CREDITS"
)

// GateDecision pairs an outcome with the reason for a denial.
type GateDecision struct {
	Outcome GateOutcome
	Reason  string
}

// Allowed reports whether the generation may proceed.
func (d GateDecision) Allowed() bool {
	return d.Outcome != GateDeny
}

// StagingOptions are the structured choices a user makes in the staging form.
type StagingOptions struct {
	StagingStyle      string  `json:"stagingStyle,omitempty"`
	FurnishingDensity string  `json:"furnishingDensity,omitempty"`
	ColorTone         string  `json:"colorTone,omitempty"`
	Angle             string  `json:"angle,omitempty"`
	AdditionalNotes   *string `json:"additionalNotes,omitempty"`
}

// GenerateRequest is the POST /generate body.
type GenerateRequest struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl"`
	StagingOptions
}

// GeneratedImage is the processed output returned to the caller.
type GeneratedImage struct {
	Data        []byte
	MediaType   string
	Watermarked bool
	Overage     bool
	Credits     int
}
