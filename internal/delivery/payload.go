package delivery

import kit "familyconnect/internal/transport"

// Payload is what gets pushed to recipients. The set of variants is closed:
// Message and Reminder are the only implementations.
type Payload interface {
	Kind() kit.PushKind
	push() kit.Push
}

type Message struct {
	Text string
}

func (Message) Kind() kit.PushKind { return kit.PushMessage }

func (m Message) push() kit.Push {
	return kit.Push{Type: kit.PushMessage, Data: m.Text}
}

// Reminder carries the spoken time verbatim; the client decides how to
// schedule it.
type Reminder struct {
	Time string
	Text string
}

func (Reminder) Kind() kit.PushKind { return kit.PushReminder }

func (r Reminder) push() kit.Push {
	return kit.Push{Type: kit.PushReminder, Data: kit.ReminderData{Time: r.Time, Text: r.Text}}
}

// PushOf returns the wire envelope for p.
func PushOf(p Payload) kit.Push { return p.push() }
