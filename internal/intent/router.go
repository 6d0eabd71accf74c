package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"familyconnect/internal/delivery"
	"familyconnect/internal/family"
	"familyconnect/internal/pairing"
	"familyconnect/internal/storage"
	logx "familyconnect/pkg/logx"
)

// Store is the persistence the router reads from.
type Store interface {
	FamilyByAccount(ctx context.Context, accountID string) (family.Family, error)
	Members(ctx context.Context, familyID string) ([]family.Member, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Registrar creates the family of an unseen account.
type Registrar interface {
	Register(ctx context.Context, accountID string) (family.Family, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, recipients []family.Member, payload delivery.Payload) delivery.Outcome
}

// ErrNoAccount is returned for a request without an account key.
var ErrNoAccount = errors.New("intent: missing account id")

type Router struct {
	store      Store
	registrar  Registrar
	dispatcher Dispatcher
	log        logx.Logger
}

func NewRouter(store Store, registrar Registrar, dispatcher Dispatcher, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store:      store,
		registrar:  registrar,
		dispatcher: dispatcher,
		log:        log.With(logx.String("comp", "intent")),
	}
}

// Handle answers one request from accountID. Errors are storage failures;
// an unknown name or an offline family is a normal acknowledgment.
func (r *Router) Handle(ctx context.Context, accountID string, in Intent) (Response, error) {
	if strings.TrimSpace(accountID) == "" {
		return Response{}, ErrNoAccount
	}
	if in == nil {
		in = Launch{}
	}

	fam, err := r.store.FamilyByAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		fam, err = r.registrar.Register(ctx, accountID)
		if err != nil {
			return Response{}, fmt.Errorf("register account: %w", err)
		}
		return Response{Kind: PendingRegistration, Speech: pairing.CodePrompt(fam.SetupCode)}, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("lookup family: %w", err)
	}

	switch v := in.(type) {
	case Notify:
		return r.send(ctx, fam, v, v.Addressee, delivery.Message{Text: strings.TrimSpace(v.Text)}, AckMessageSent)
	case Remind:
		p := delivery.Reminder{Time: strings.TrimSpace(v.Time), Text: strings.TrimSpace(v.Text)}
		return r.send(ctx, fam, v, v.Addressee, p, AckReminderSent)
	case SetupCode:
		return ack(pairing.CodeReminder(fam.SetupCode)), nil
	case Launch:
		return ack(AckLaunch), nil
	default:
		return ack(AckLaunch), nil
	}
}

func (r *Router) send(ctx context.Context, fam family.Family, in Intent, rawTo string, p delivery.Payload, sent string) (Response, error) {
	if !hasContent(p) || strings.TrimSpace(rawTo) == "" {
		return ack(AckRepeat), nil
	}

	members, err := r.store.Members(ctx, fam.ID)
	if err != nil {
		return Response{}, fmt.Errorf("load members: %w", err)
	}
	to := family.ParseAddressee(rawTo)
	recipients := family.Resolve(members, to)
	if len(recipients) == 0 {
		r.log.Debug("addressee not found", logx.String("family", fam.ID), logx.String("to", to.String()))
		return ack(AckNotFound), nil
	}

	start := time.Now()
	out := r.dispatcher.Dispatch(ctx, recipients, p)
	r.audit(ctx, storage.AuditEntry{
		At:        start,
		FamilyID:  fam.ID,
		Intent:    in.Name(),
		Addressee: to.String(),
		Kind:      string(p.Kind()),
		Matched:   out.Matched,
		Connected: out.Connected,
		Notified:  out.Notified,
		Failed:    out.Failed,
		TookMS:    time.Since(start).Milliseconds(),
	})

	if !out.AnyNotified() {
		return ack(AckNoneConnected), nil
	}
	return ack(sent), nil
}

// audit never fails the request.
func (r *Router) audit(ctx context.Context, e storage.AuditEntry) {
	if err := r.store.AppendAudit(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("family", e.FamilyID), logx.Err(err))
	}
}

func hasContent(p delivery.Payload) bool {
	switch v := p.(type) {
	case delivery.Message:
		return v.Text != ""
	case delivery.Reminder:
		return v.Text != "" && v.Time != ""
	default:
		return false
	}
}

func ack(s string) Response { return Response{Kind: Acknowledged, Speech: s} }
