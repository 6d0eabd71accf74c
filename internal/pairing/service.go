package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"familyconnect/internal/eventbus"
	"familyconnect/internal/family"
	"familyconnect/internal/storage"
	logx "familyconnect/pkg/logx"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrUnknownCode = errors.New("unknown setup code")
	ErrDeviceTaken = errors.New("device already bound")
)

var validate = validator.New()

// BindRequest is what a client app sends after the user typed the code.
type BindRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	DeviceID string `json:"device_id" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,max=64"`
}

// Store is the slice of storage the pairing flow needs.
type Store interface {
	CodeChecker
	FamilyByAccount(ctx context.Context, accountID string) (family.Family, error)
	FamilyByCode(ctx context.Context, code string) (family.Family, error)
	CreateFamily(ctx context.Context, f family.Family) error
	AddMember(ctx context.Context, m family.Member) error
}

type Service struct {
	store Store
	gen   Generator
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func NewService(store Store, bus eventbus.Bus, log logx.Logger) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		gen:   Generator{Store: store},
		bus:   bus,
		log:   log.With(logx.String("comp", "pairing")),
		now:   time.Now,
	}
}

// Register creates the family for a previously unseen account. If another
// request registered the same account first, that family is returned.
func (s *Service) Register(ctx context.Context, accountID string) (family.Family, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return family.Family{}, err
		}
		f := family.Family{
			ID:        uuid.NewString(),
			AccountID: accountID,
			SetupCode: code,
			CreatedAt: s.now().UTC(),
		}
		err = s.store.CreateFamily(ctx, f)
		if err == nil {
			s.log.Info("family registered", logx.String("family", f.ID))
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeFamilyCreated,
				Data: eventbus.FamilyEvent{FamilyID: f.ID},
			})
			return f, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return family.Family{}, fmt.Errorf("create family: %w", err)
		}
		// Either the account raced us or the code was taken in between.
		if existing, err := s.store.FamilyByAccount(ctx, accountID); err == nil {
			return existing, nil
		}
	}
	return family.Family{}, ErrExhausted
}

// Bind attaches a device to the family owning req.Code. The device id
// becomes the member id and therefore its session key.
func (s *Service) Bind(ctx context.Context, req BindRequest) (family.Member, error) {
	req.Code = strings.ToLower(strings.TrimSpace(req.Code))
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return family.Member{}, err
	}

	f, err := s.store.FamilyByCode(ctx, req.Code)
	if errors.Is(err, storage.ErrNotFound) {
		return family.Member{}, ErrUnknownCode
	}
	if err != nil {
		return family.Member{}, fmt.Errorf("lookup code: %w", err)
	}

	m := family.Member{ID: req.DeviceID, FamilyID: f.ID, Name: req.Name, CreatedAt: s.now().UTC()}
	if err := s.store.AddMember(ctx, m); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return family.Member{}, ErrDeviceTaken
		}
		return family.Member{}, fmt.Errorf("add member: %w", err)
	}

	s.log.Info("device bound", logx.String("family", f.ID), logx.String("member", m.ID))
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeDeviceBound,
		Data: eventbus.FamilyEvent{FamilyID: f.ID, MemberID: m.ID},
	})
	return m, nil
}
