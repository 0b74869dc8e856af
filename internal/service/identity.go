package service

import (
	"context"
	"errors"
	"fmt"

	"support_chat/internal/config"
	"support_chat/internal/domain"
	"support_chat/internal/relay"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
	"support_chat/pkg/jwt"
	"support_chat/pkg/logger"
)

// IdentityService turns bearer tokens issued by the account service into
// identities. The user row is re-read on every call so role changes apply to
// the next event.
type IdentityService interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
	Resolve(ctx context.Context, session *relay.Session) (*domain.Identity, error)
}

type identityService struct {
	userRepo   repository.UserRepository
	jwtCfg     config.JWTConfig
	operatorID int64
	log        logger.Logger
}

func NewIdentityService(userRepo repository.UserRepository, jwtCfg config.JWTConfig, operatorID int64, log logger.Logger) IdentityService {
	return &identityService{
		userRepo:   userRepo,
		jwtCfg:     jwtCfg,
		operatorID: operatorID,
		log:        log,
	}
}

func (s *identityService) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, apperrors.ErrUnauthorized
	}

	claims, err := jwt.ValidateToken(token, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
		}
		return nil, err
	}

	if !user.IsOperator() && user.ID == s.operatorID {
		s.log.Error("Ordinary account holds the operator id", "user_id", user.ID)
		return nil, apperrors.ErrReservedOperatorID
	}

	return &domain.Identity{
		UserID:     user.ID,
		Email:      user.Email,
		IsOperator: user.IsOperator(),
	}, nil
}

// VerifyOperatorID fails when operatorID belongs to an ordinary account. A
// missing row is fine: the operator id does not have to be a real account.
func VerifyOperatorID(ctx context.Context, userRepo repository.UserRepository, operatorID int64) error {
	user, err := userRepo.GetByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("look up operator account: %w", err)
	}
	if !user.IsOperator() {
		return fmt.Errorf("%w: user %d has role %s", apperrors.ErrReservedOperatorID, user.ID, user.Role)
	}
	return nil
}

func (s *identityService) Resolve(ctx context.Context, session *relay.Session) (*domain.Identity, error) {
	identity, err := s.Authenticate(ctx, session.Token)
	if err != nil {
		s.log.Debug("Session identity not resolved", "session_id", session.ID, "error", err)
		return nil, err
	}
	return identity, nil
}
