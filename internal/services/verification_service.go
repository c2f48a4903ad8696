package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/metrics"
)

const (
	defaultVerificationTTL  = 24 * time.Hour
	defaultVerificationCode = 6
)

// VerificationRequest asks for a code to be sent to Contact. An empty Channel picks the default
// for the contact kind.
type VerificationRequest struct {
	Contact string
	Channel models.Channel
}

// ChallengeHandle identifies an issued challenge. It never carries the code.
type ChallengeHandle struct {
	ChallengeID string
	Contact     string
	Channel     models.Channel
	ExpiresAt   time.Time
}

// ConfirmRequest names the challenge by id, or by contact for the newest outstanding one.
type ConfirmRequest struct {
	ChallengeID string
	Contact     string
	Code        string
}

// VerificationOption customises the VerificationService.
type VerificationOption func(*VerificationService)

// WithVerificationBaseURL sets the base URL used in magic links.
func WithVerificationBaseURL(url string) VerificationOption {
	return func(s *VerificationService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithVerificationTTL overrides the challenge lifetime.
func WithVerificationTTL(d time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithVerificationCode adjusts the code length and alphabet.
func WithVerificationCode(length int, alphabet string) VerificationOption {
	return func(s *VerificationService) {
		if length > 0 {
			s.codeLength = length
		}
		if alphabet != "" {
			s.alphabet = alphabet
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithVerificationLogger overrides the service logger.
func WithVerificationLogger(log *zap.Logger) VerificationOption {
	return func(s *VerificationService) {
		if log != nil {
			s.log = log
		}
	}
}

// VerificationService issues and confirms contact ownership challenges.
type VerificationService struct {
	users      store.Store[models.User]
	challenges store.Store[models.Challenge]
	deliverer  Deliverer
	baseURL    string
	ttl        time.Duration
	codeLength int
	alphabet   string
	now        func() time.Time
	log        *zap.Logger
}

// NewVerificationService constructs a verification service with the provided dependencies.
func NewVerificationService(users store.Store[models.User], challenges store.Store[models.Challenge], deliverer Deliverer, opts ...VerificationOption) (*VerificationService, error) {
	if users == nil || challenges == nil {
		return nil, errors.New("verification service: user and challenge stores are required")
	}
	if deliverer == nil {
		return nil, errors.New("verification service: deliverer is required")
	}

	svc := &VerificationService{
		users:      users,
		challenges: challenges,
		deliverer:  deliverer,
		ttl:        defaultVerificationTTL,
		codeLength: defaultVerificationCode,
		alphabet:   crypto.DigitAlphabet,
		now:        time.Now,
		log:        logger.WithModule("verification"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if _, err := crypto.RandomCode(svc.codeLength, svc.alphabet); err != nil {
		return nil, fmt.Errorf("verification service: %w", err)
	}
	return svc, nil
}

// Request issues a fresh challenge for the contact and hands the code to the deliverer. Older
// unconsumed challenges for the same contact are superseded. When delivery fails the challenge
// is kept and the handle is returned together with ErrDeliveryFailed.
func (s *VerificationService) Request(ctx context.Context, req VerificationRequest) (*ChallengeHandle, error) {
	kind, contact, err := models.ClassifyContact(req.Contact)
	if err != nil {
		recordRequest(req.Channel, "invalid")
		return nil, apperrors.NewBadRequest("contact must be an email address or phone number").WithInternal(err)
	}

	channel := req.Channel
	if channel == "" {
		channel = models.DefaultChannel(kind)
	}
	if !channel.Reaches(kind) {
		recordRequest(channel, "invalid")
		return nil, apperrors.NewBadRequest(fmt.Sprintf("channel %s cannot reach a %s contact", channel, kind)).
			WithInternal(models.ErrChannelMismatch)
	}

	now := s.now()

	owner, err := s.users.GetBy(ctx, contactIndex(kind), contact)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		recordRequest(channel, "error")
		return nil, fromStoreError(err)
	case owner.Verified(kind):
		recordRequest(channel, "already_verified")
		return nil, apperrors.ErrContactAlreadyVerified
	}

	if err := s.supersede(ctx, contact); err != nil {
		recordRequest(channel, "error")
		return nil, err
	}

	code, err := crypto.RandomCode(s.codeLength, s.alphabet)
	if err != nil {
		recordRequest(channel, "error")
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	challenge := models.Challenge{
		OwnerID:     owner.ID,
		Contact:     contact,
		ContactKind: kind,
		Channel:     channel,
		CodeHash:    crypto.SHA256Hex(code),
		ExpiresAt:   now.Add(s.ttl),
	}
	challenge.CreatedAt = now
	challenge.UpdatedAt = now

	challenge, err = s.challenges.Create(ctx, challenge)
	if err != nil {
		recordRequest(channel, "error")
		return nil, fromStoreError(err)
	}

	handle := &ChallengeHandle{
		ChallengeID: challenge.ID,
		Contact:     contact,
		Channel:     channel,
		ExpiresAt:   challenge.ExpiresAt,
	}

	err = s.deliverer.Deliver(ctx, Delivery{
		ChallengeID: challenge.ID,
		Channel:     channel,
		Kind:        kind,
		To:          contact,
		Code:        code,
		Link:        s.magicLink(challenge.ID, code),
		ExpiresAt:   challenge.ExpiresAt,
	})
	if err != nil {
		recordRequest(channel, "delivery_failed")
		s.log.Warn("deliver verification code failed",
			zap.String("challenge_id", challenge.ID),
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
		return handle, apperrors.ErrDeliveryFailed.WithInternal(err)
	}

	recordRequest(channel, "success")
	s.log.Info("verification challenge issued",
		zap.String("challenge_id", challenge.ID),
		zap.String("channel", string(channel)),
		zap.Bool("pending_owner", challenge.OwnerID == ""),
	)
	return handle, nil
}

// Confirm consumes a challenge when it is unconsumed, unexpired and the code matches, checked in
// that order inside one store update. It then flips the verified flag on the contact's owner.
func (s *VerificationService) Confirm(ctx context.Context, req ConfirmRequest) (*models.Challenge, error) {
	target, err := s.locate(ctx, req)
	if err != nil {
		recordConfirm(err)
		return nil, err
	}

	now := s.now()
	digest := crypto.SHA256Hex(strings.TrimSpace(req.Code))

	consumed, err := s.challenges.Update(ctx, target.ID, func(c *models.Challenge) error {
		switch {
		case c.Consumed:
			return apperrors.ErrAlreadyConsumed
		case c.Expired(now):
			return apperrors.ErrExpiredCode
		case !crypto.EqualDigest(c.CodeHash, digest):
			return apperrors.ErrInvalidCode
		}
		c.Consumed = true
		c.ConsumedAt = &now
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		if appErr, ok := asAppError(err); ok {
			recordConfirm(appErr)
			return nil, appErr
		}
		mapped := fromStoreError(err)
		recordConfirm(mapped)
		return nil, mapped
	}

	if err := s.markOwnerVerified(ctx, consumed); err != nil {
		s.revert(ctx, consumed.ID)
		recordConfirm(err)
		return nil, err
	}

	recordConfirm(nil)
	s.log.Info("contact verified",
		zap.String("challenge_id", consumed.ID),
		zap.String("owner_id", consumed.OwnerID),
	)
	return &consumed, nil
}

// locate resolves the challenge a confirmation refers to.
func (s *VerificationService) locate(ctx context.Context, req ConfirmRequest) (models.Challenge, error) {
	if id := strings.TrimSpace(req.ChallengeID); id != "" {
		challenge, err := s.challenges.Get(ctx, id)
		if err != nil {
			return models.Challenge{}, fromStoreError(err)
		}
		return challenge, nil
	}

	if strings.TrimSpace(req.Contact) == "" {
		return models.Challenge{}, apperrors.NewBadRequest("challenge id or contact is required")
	}
	_, contact, err := models.ClassifyContact(req.Contact)
	if err != nil {
		return models.Challenge{}, apperrors.NewBadRequest("contact must be an email address or phone number").WithInternal(err)
	}

	candidates, err := s.challenges.GetMany(ctx, store.Filter{store.FieldContact: contact})
	if err != nil {
		return models.Challenge{}, fromStoreError(err)
	}
	if len(candidates) == 0 {
		return models.Challenge{}, apperrors.ErrNotFound
	}

	// Newest first; an outstanding challenge wins over any consumed one.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Consumed != candidates[j].Consumed {
			return !candidates[i].Consumed
		}
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

// markOwnerVerified flips the verified flag for the challenge contact. A challenge issued before
// signup is matched to whichever user owns the contact now; with no such user there is nothing
// to flip.
func (s *VerificationService) markOwnerVerified(ctx context.Context, challenge models.Challenge) error {
	ownerID := challenge.OwnerID
	if ownerID != "" {
		if _, err := s.users.Get(ctx, ownerID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return fromStoreError(err)
			}
			ownerID = ""
		}
	}
	if ownerID == "" {
		owner, err := s.users.GetBy(ctx, contactIndex(challenge.ContactKind), challenge.Contact)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fromStoreError(err)
		}
		ownerID = owner.ID
	}

	_, err := s.users.Update(ctx, ownerID, func(u *models.User) error {
		if !u.Owns(challenge.ContactKind, challenge.Contact) {
			return errContactReassigned
		}
		u.MarkVerified(challenge.ContactKind, challenge.Contact)
		return nil
	})
	switch {
	case err == nil, errors.Is(err, errContactReassigned), errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fromStoreError(err)
	}
}

var errContactReassigned = errors.New("contact no longer belongs to the challenge owner")

// revert undoes a consumption whose owner update could not be stored.
func (s *VerificationService) revert(ctx context.Context, id string) {
	_, err := s.challenges.Update(ctx, id, func(c *models.Challenge) error {
		c.Consumed = false
		c.ConsumedAt = nil
		return nil
	})
	if err != nil {
		s.log.Error("revert challenge consumption failed", zap.String("challenge_id", id), zap.Error(err))
	}
}

func (s *VerificationService) supersede(ctx context.Context, contact string) error {
	outstanding, err := s.challenges.GetMany(ctx, store.Filter{
		store.FieldContact:  contact,
		store.FieldConsumed: false,
	})
	if err != nil {
		return fromStoreError(err)
	}
	for _, c := range outstanding {
		if err := s.challenges.Delete(ctx, c.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fromStoreError(err)
		}
	}
	return nil
}

func (s *VerificationService) magicLink(id, code string) string {
	query := url.Values{"code": {code}}.Encode()
	if s.baseURL == "" {
		return url.PathEscape(id) + "?" + query
	}
	return s.baseURL + "/" + url.PathEscape(id) + "?" + query
}

func recordRequest(channel models.Channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	metrics.VerificationRequests.WithLabelValues(string(channel), result).Inc()
}

func recordConfirm(err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrAlreadyConsumed):
		result = "already_consumed"
	case errors.Is(err, apperrors.ErrExpiredCode):
		result = "expired"
	case errors.Is(err, apperrors.ErrInvalidCode):
		result = "invalid_code"
	case errors.Is(err, apperrors.ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.VerificationConfirmations.WithLabelValues(result).Inc()
}
