package cdpcontrol

import "fmt"

const (
	CodeValidation       = "VALIDATION"
	CodeTabNotFound      = "TAB_NOT_FOUND"
	CodeRestrictedPage   = "RESTRICTED_PAGE"
	CodeDeliveryFailed   = "DELIVERY_FAILED"
	CodeAgentUnavailable = "AGENT_UNAVAILABLE"
	CodeUnknownService   = "UNKNOWN_SERVICE"
	CodeEvalFailure      = "EVAL_FAILURE"
	CodeEvalTimeout      = "EVAL_TIMEOUT"
	CodeCommandFailed    = "CDP_COMMAND_FAILED"
	CodeCDPUnavailable   = "CDP_UNAVAILABLE"
	CodePreferenceStore  = "PREFERENCE_STORE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// LoadStatus mirrors document.readyState collapsed to two states.
type LoadStatus string

const (
	StatusLoading  LoadStatus = "loading"
	StatusComplete LoadStatus = "complete"
)

// TabInfo describes a page target. Status is only populated by GetTab.
type TabInfo struct {
	TargetID string     `json:"target_id"`
	URL      string     `json:"url"`
	Title    string     `json:"title,omitempty"`
	Status   LoadStatus `json:"status,omitempty"`
}

// ActionInsertText is the only action the in-page agent understands.
const ActionInsertText = "insertText"

// Message is the request sent to the in-page agent.
type Message struct {
	Action string `json:"action"`
	Text   string `json:"text"`
}
