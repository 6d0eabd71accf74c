// Package intent turns a decoded voice command into a recipient lookup, a
// dispatch and a spoken acknowledgment.
package intent

// Intent is one decoded voice command. The set of variants is closed.
type Intent interface {
	Name() string
	isIntent()
}

// Notify sends Text to the members named by Addressee ("all" for everyone).
type Notify struct {
	Addressee string
	Text      string
}

// Remind sends a timed reminder. Time is passed through as spoken.
type Remind struct {
	Addressee string
	Time      string
	Text      string
}

// SetupCode asks for the family's pairing code again.
type SetupCode struct{}

// Launch covers the skill being opened without a command, and anything the
// router has no handler for.
type Launch struct{}

func (Notify) Name() string    { return "notify" }
func (Remind) Name() string    { return "reminder" }
func (SetupCode) Name() string { return "setupCode" }
func (Launch) Name() string    { return "launch" }

func (Notify) isIntent()    {}
func (Remind) isIntent()    {}
func (SetupCode) isIntent() {}
func (Launch) isIntent()    {}

// Acknowledgments spoken back to the caller.
const (
	AckMessageSent   = "Message sent"
	AckReminderSent  = "Reminder sent"
	AckNotFound      = "Can't find name of family member"
	AckNoneConnected = "No messages were sent. Likely that no family computers are connected."
	AckLaunch        = "This is Family Connect"
	AckRepeat        = "Sorry, I didn't catch who or what to send. Please try again."
)

type ResponseKind int

const (
	Acknowledged ResponseKind = iota
	// PendingRegistration is returned to an account with no family yet;
	// Speech carries the setup code prompt.
	PendingRegistration
)

// Response is the single answer produced for every request. Speech may
// contain SSML tags but not the enclosing <speak> element.
type Response struct {
	Kind   ResponseKind
	Speech string
}
