// Package auth はパスワード認証、セッショントークンの発行・検証、
// およびプロセス側で現在のセッションを保持する認証クライアントを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	JWTSecret  string        // トークン署名鍵
	SessionTTL time.Duration // セッション有効期間
	BcryptCost int           // 0の場合はbcrypt.DefaultCost
}

// Service は認証バックエンドのビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *tokenIssuer
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   &tokenIssuer{secret: []byte(config.JWTSecret)},
		config:   config,
		now:      time.Now,
	}
}

// SignUp は未確認状態のユーザーを作成する。セッションは発行しない。
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*model.Identity, error) {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return nil, model.NewAuthError(errors.New("メールアドレスの形式が正しくありません。"))
	}
	if len(password) < MinPasswordLength {
		return nil, model.NewAuthError(fmt.Errorf("パスワードは%d文字以上で入力してください。", MinPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &model.AuthUser{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailExistsError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up, waiting for confirmation",
		slog.String("user_id", user.ID),
	)

	identity := user.Identity()
	return &identity, nil
}

// ConfirmEmail は未確認ユーザーのメールアドレスを確認済みにする。
func (s *Service) ConfirmEmail(ctx context.Context, email string) error {
	ok, err := s.users.Confirm(ctx, strings.TrimSpace(email), s.now())
	if err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	if !ok {
		return fmt.Errorf("no unconfirmed user for %s", email)
	}

	slog.Info("user email confirmed")
	return nil
}

// SignIn はメールアドレスとパスワードを検証し、新しいセッションを発行する。
// メールアドレスが未確認の場合はEMAIL_NOT_CONFIRMEDを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("sign in rejected: password mismatch", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}
	if user.ConfirmedAt == nil {
		return nil, model.NewEmailNotConfirmedError()
	}

	now := s.now()
	record := &model.SessionRecord{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	session, err := s.issue(user, record)
	if err != nil {
		return nil, err
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("session_id", record.ID),
	)
	return session, nil
}

// Verify はトークンを検証し、有効なセッションを返す。
// セッションが失効・削除されている場合はSESSION_EXPIREDを返す。
func (s *Service) Verify(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.parse(token, true)
	if err != nil {
		return nil, model.NewSessionExpiredError()
	}

	user, record, err := s.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}

	return &model.Session{
		ID:          record.ID,
		Identity:    user.Identity(),
		AccessToken: token,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
	}, nil
}

// Refresh はセッションの期限を延長し、新しいトークンを発行する。
func (s *Service) Refresh(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.tokens.parse(token, true)
	if err != nil {
		return nil, model.NewSessionExpiredError()
	}

	user, record, err := s.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}

	record.ExpiresAt = s.now().Add(s.config.SessionTTL)
	ok, err := s.sessions.Extend(ctx, record.ID, record.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if !ok {
		return nil, model.NewSessionExpiredError()
	}

	return s.issue(user, record)
}

// SignOut はトークンが示すセッションを削除する。
// 期限切れのトークンでも署名が正しければセッションを削除する。
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.parse(token, false)
	if err != nil {
		return model.NewSessionExpiredError()
	}

	if err := s.sessions.DeleteByID(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user signed out", slog.String("session_id", claims.SessionID))
	return nil
}

// lookup はトークンのクレームからユーザーと有効なセッション行を取得する。
func (s *Service) lookup(ctx context.Context, claims *sessionClaims) (*model.AuthUser, *model.SessionRecord, error) {
	record, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if record == nil || record.UserID != claims.UserID {
		return nil, nil, model.NewSessionExpiredError()
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewSessionExpiredError()
	}

	return user, record, nil
}

func (s *Service) issue(user *model.AuthUser, record *model.SessionRecord) (*model.Session, error) {
	token, err := s.tokens.sign(sessionClaims{
		UserID:    user.ID,
		SessionID: record.ID,
		Email:     user.Email,
		IssuedAt:  s.now(),
		ExpiresAt: record.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &model.Session{
		ID:          record.ID,
		Identity:    user.Identity(),
		AccessToken: token,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
	}, nil
}
