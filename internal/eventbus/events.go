package eventbus

// Event types published by familyconnect components.
const (
	TypeSessionAttached   = "session.attached"
	TypeSessionDetached   = "session.detached"
	TypeSessionEvicted    = "session.evicted"
	TypeDispatchCompleted = "dispatch.completed"
	TypeFamilyCreated     = "family.created"
	TypeDeviceBound       = "device.bound"
)

// SessionEvent is the Data of session.* events.
type SessionEvent struct {
	MemberID string `json:"member_id"`
	ConnID   string `json:"conn_id"`
	Replaced string `json:"replaced,omitempty"`
}

// DispatchEvent is the Data of dispatch.completed.
type DispatchEvent struct {
	FamilyID  string `json:"family_id,omitempty"`
	Kind      string `json:"kind"`
	Matched   int    `json:"matched"`
	Connected int    `json:"connected"`
	Notified  int    `json:"notified"`
	Failed    int    `json:"failed"`
}

// FamilyEvent is the Data of family.created and device.bound.
type FamilyEvent struct {
	FamilyID string `json:"family_id"`
	MemberID string `json:"member_id,omitempty"`
}
