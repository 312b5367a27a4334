package catalog

// Status represents the lifecycle state of a session.
type Status string

// Session states. collecting_urls may skip awaiting_confirmation when the
// discovered item count is at or below ConfirmThreshold.
const (
	StatusCollectingURLs  Status = "collecting_urls"
	StatusAwaitingConfirm Status = "awaiting_confirmation"
	StatusParsingProducts Status = "parsing_products"
	StatusComplete        Status = "complete"
	StatusCanceled        Status = "canceled"
	StatusError           Status = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCanceled, StatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next follows the session
// state graph. Terminal states admit nothing; canceled and error are
// reachable from every non-terminal state.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCanceled || next == StatusError {
		return true
	}
	switch s {
	case StatusCollectingURLs:
		return next == StatusAwaitingConfirm || next == StatusParsingProducts
	case StatusAwaitingConfirm:
		return next == StatusParsingProducts
	case StatusParsingProducts:
		return next == StatusComplete
	default:
		return false
	}
}
