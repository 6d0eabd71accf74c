package delivery

// Outcome summarises one dispatch.
//
// Notified counts pushes handed to the transport without error. It says
// nothing about whether the client received or displayed them; there is no
// confirmation channel.
type Outcome struct {
	Matched   int
	Connected int
	Notified  int
	Failed    int
}

func (o Outcome) AnyNotified() bool { return o.Notified > 0 }

// Partial reports that some matched recipient did not get the push.
func (o Outcome) Partial() bool { return o.Notified > 0 && o.Notified < o.Matched }
