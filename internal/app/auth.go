package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"medtrack/internal/util"
	"medtrack/pkg/auth"
	"medtrack/pkg/domain"
)

// OTPChallengeResult is returned from RequestOTP. DebugCode is populated only
// in debug mode; production delivery goes through SMS.
type OTPChallengeResult struct {
	RequestID string `json:"requestId"`
	ExpiresIn int    `json:"expiresIn"`
	DebugCode string `json:"debugCode,omitempty"`
}

// RequestOTP issues a one-time login code for a phone number, creating the
// account on first contact.
func (a *App) RequestOTP(ctx context.Context, phone string) (OTPChallengeResult, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return OTPChallengeResult{}, err
	}
	if a.limiter != nil && !a.limiter.Allow(phone) {
		return OTPChallengeResult{}, ErrOTPRateLimited
	}

	user, ok, err := a.store.GetUserByPhone(phone)
	if err != nil {
		return OTPChallengeResult{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		user = domain.User{
			ID:          util.NewID(),
			PhoneNumber: phone,
			IsActive:    true,
			CreatedAt:   a.now().UTC(),
		}
		if err := a.store.SaveUser(user); err != nil {
			return OTPChallengeResult{}, fmt.Errorf("create user: %w", err)
		}
	}
	if !user.IsActive {
		return OTPChallengeResult{}, ErrUserInactive
	}

	code, err := newOTPCode()
	if err != nil {
		return OTPChallengeResult{}, fmt.Errorf("generate otp code: %w", err)
	}
	codeHash, err := auth.HashCode(code)
	if err != nil {
		return OTPChallengeResult{}, fmt.Errorf("hash otp code: %w", err)
	}
	now := a.now().UTC()
	challenge := domain.OTPChallenge{
		ID:          util.NewID(),
		UserID:      user.ID,
		PhoneNumber: phone,
		CodeHash:    codeHash,
		RequestID:   util.NewRequestID(),
		ExpiresAt:   now.Add(a.otpTTL),
		CreatedAt:   now,
	}
	if err := a.store.CreateOTPChallenge(challenge); err != nil {
		return OTPChallengeResult{}, fmt.Errorf("save otp challenge: %w", err)
	}

	result := OTPChallengeResult{
		RequestID: challenge.RequestID,
		ExpiresIn: int(a.otpTTL.Seconds()),
	}
	if a.debug {
		result.DebugCode = code
		return result, nil
	}
	if err := a.sms.Send(ctx, phone, code); err != nil {
		slog.Error("otp sms delivery failed", "error", err)
		return OTPChallengeResult{}, fmt.Errorf("send otp: %w", err)
	}
	return result, nil
}

// VerifyOTP checks a submitted code against its challenge and logs the user
// in. Checks run in a fixed order so each failure mode maps to a stable
// client-visible error, and consumption is atomic so a code verifies at most
// once even under concurrent submissions.
func (a *App) VerifyOTP(ctx context.Context, phone, requestID, code string) (domain.User, string, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return domain.User{}, "", err
	}
	requestID = strings.TrimSpace(requestID)
	code = strings.TrimSpace(code)

	user, ok, err := a.store.GetUserByPhone(phone)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrUserNotFound
	}
	if !user.IsActive {
		return domain.User{}, "", ErrUserInactive
	}

	challenge, ok, err := a.store.GetOTPChallenge(user.ID, requestID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch otp challenge: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrOTPRequestInvalid
	}
	if challenge.UsedAt != nil {
		return domain.User{}, "", ErrOTPAlreadyUsed
	}
	now := a.now().UTC()
	if challenge.ExpiresAt.IsZero() || !now.Before(challenge.ExpiresAt) {
		return domain.User{}, "", ErrOTPExpired
	}
	if !auth.CheckCode(code, challenge.CodeHash) {
		return domain.User{}, "", ErrOTPCodeInvalid
	}
	won, err := a.store.ConsumeOTPChallenge(challenge.ID, now)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("consume otp challenge: %w", err)
	}
	if !won {
		return domain.User{}, "", ErrOTPAlreadyUsed
	}

	accessToken, err := a.tokens.Issue(user.ID, user.IsSuperuser)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, nil
}

// Register creates an email/password account and logs it in.
func (a *App) Register(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	_, exists, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	return a.issueUserToken(user)
}

// LoginEmail validates email/password credentials and issues a token.
func (a *App) LoginEmail(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, "", ErrUserInactive
	}
	if user.PasswordHash == "" || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	return a.issueUserToken(user)
}

func (a *App) issueUserToken(user domain.User) (domain.User, string, error) {
	accessToken, err := a.tokens.Issue(user.ID, user.IsSuperuser)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, nil
}

// UserFromToken resolves a user from a bearer token.
func (a *App) UserFromToken(raw string) (domain.User, bool) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return domain.User{}, false
	}
	user, ok, err := a.store.GetUserByID(claims.UserID)
	if err != nil || !ok {
		return domain.User{}, false
	}
	if !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrPhoneRequired
	}
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrPhoneInvalid
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrPhoneInvalid
		}
	}
	return digits, nil
}

func newOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
