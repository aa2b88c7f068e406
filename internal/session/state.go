package session

// State is a step of the session. Interrupted can be entered from any
// non-terminal state, the session resumes the prior state once it clears.
type State int

const (
	Init State = iota
	LoggingIn
	Authenticated
	NavigatingToReport
	SettingDateRange
	AwaitingResults
	Downloading
	Done
	Interrupted
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case LoggingIn:
		return "logging-in"
	case Authenticated:
		return "authenticated"
	case NavigatingToReport:
		return "navigating-to-report"
	case SettingDateRange:
		return "setting-date-range"
	case AwaitingResults:
		return "awaiting-results"
	case Downloading:
		return "downloading"
	case Done:
		return "done"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Classification is what the current page looks like to a Classifier.
type Classification int

const (
	Normal Classification = iota
	Interruption
	ErrorPage
)

func (c Classification) String() string {
	switch c {
	case Normal:
		return "normal"
	case Interruption:
		return "interruption"
	case ErrorPage:
		return "error"
	}
	return "unknown"
}
