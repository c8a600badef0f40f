package domain

// ActionResult is the outcome of one automation step. Implementations are
// Success, Failure and NeedsConfirmation.
type ActionResult interface {
	OK() bool
	String() string
	actionResult()
}

// Success reports a completed step.
type Success struct {
	Description string `json:"description"`
}

// Failure reports a step the device could not perform.
type Failure struct {
	Reason string `json:"reason"`
}

// NeedsConfirmation reports a step that was held back pending user consent.
type NeedsConfirmation struct {
	Reason string `json:"reason"`
}

func (Success) actionResult()           {}
func (Failure) actionResult()           {}
func (NeedsConfirmation) actionResult() {}

func (Success) OK() bool           { return true }
func (Failure) OK() bool           { return false }
func (NeedsConfirmation) OK() bool { return false }

func (r Success) String() string           { return "success: " + r.Description }
func (r Failure) String() string           { return "failure: " + r.Reason }
func (r NeedsConfirmation) String() string { return "needs confirmation: " + r.Reason }
