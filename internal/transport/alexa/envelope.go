// Package alexa is the voice-platform webhook: it decodes skill requests,
// checks which skill sent them, and encodes SSML responses.
package alexa

import (
	"errors"
	"strings"

	"familyconnect/internal/intent"
)

// ErrUnauthorized means the request came from a different skill.
var ErrUnauthorized = errors.New("skill doesn't match id")

// RequestEnvelope holds the parts of a skill request the router needs.
type RequestEnvelope struct {
	Version string  `json:"version"`
	Session Session `json:"session"`
	Request Request `json:"request"`
}

type Session struct {
	Application struct {
		ApplicationID string `json:"applicationId"`
	} `json:"application"`
	User struct {
		UserID string `json:"userId"`
	} `json:"user"`
}

type Request struct {
	Type   string       `json:"type"`
	Intent *IntentValue `json:"intent,omitempty"`
}

type IntentValue struct {
	Name  string          `json:"name"`
	Slots map[string]Slot `json:"slots,omitempty"`
}

type Slot struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Skill intent names and slot keys.
const (
	IntentNotify    = "notify"
	IntentReminder  = "reminder"
	IntentSetupCode = "setupCode"

	SlotWho  = "who"
	SlotWhat = "what"
	SlotWhen = "when"
)

// Authorize checks the envelope against the configured skill id. An empty
// expected id accepts any skill.
func (e RequestEnvelope) Authorize(applicationID string) error {
	if applicationID == "" || e.Session.Application.ApplicationID == applicationID {
		return nil
	}
	return ErrUnauthorized
}

// AccountID is the caller's stable account key, empty when absent.
func (e RequestEnvelope) AccountID() string { return strings.TrimSpace(e.Session.User.UserID) }

func (e RequestEnvelope) slot(name string) string {
	if e.Request.Intent == nil {
		return ""
	}
	return strings.TrimSpace(e.Request.Intent.Slots[name].Value)
}

// Intent maps the request onto the router's intents. Missing slots come
// through as empty strings; the router answers those with a retry prompt.
func (e RequestEnvelope) Intent() intent.Intent {
	if e.Request.Type != "IntentRequest" || e.Request.Intent == nil {
		return intent.Launch{}
	}
	switch e.Request.Intent.Name {
	case IntentNotify:
		return intent.Notify{Addressee: e.slot(SlotWho), Text: e.slot(SlotWhat)}
	case IntentReminder:
		return intent.Remind{Addressee: e.slot(SlotWho), Time: e.slot(SlotWhen), Text: e.slot(SlotWhat)}
	case IntentSetupCode:
		return intent.SetupCode{}
	default:
		return intent.Launch{}
	}
}

// ResponseEnvelope is the skill response. Every answer ends the session.
type ResponseEnvelope struct {
	Version  string       `json:"version"`
	Response ResponseBody `json:"response"`
}

type ResponseBody struct {
	OutputSpeech     OutputSpeech `json:"outputSpeech"`
	ShouldEndSession bool         `json:"shouldEndSession"`
}

type OutputSpeech struct {
	Type string `json:"type"`
	SSML string `json:"ssml"`
}

// Speak wraps speech, which may already contain SSML tags, into a response.
func Speak(speech string) ResponseEnvelope {
	return ResponseEnvelope{
		Version: "1.0",
		Response: ResponseBody{
			OutputSpeech:     OutputSpeech{Type: "SSML", SSML: "<speak>" + speech + "</speak>"},
			ShouldEndSession: true,
		},
	}
}
