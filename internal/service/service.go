package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/credential"
	"github.com/angeloszaimis/pinger/internal/metrics"
	"github.com/angeloszaimis/pinger/internal/model"
	"github.com/angeloszaimis/pinger/internal/session"
	"github.com/angeloszaimis/pinger/internal/sweep"
)

type Service struct {
	accounts  *accounts.Store
	sessions  *session.Store
	hasher    *credential.Hasher
	scheduler *sweep.Scheduler
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// New wires the service. collector may be nil.
func New(
	store *accounts.Store,
	sessions *session.Store,
	hasher *credential.Hasher,
	scheduler *sweep.Scheduler,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Service {
	return &Service{
		accounts:  store,
		sessions:  sessions,
		hasher:    hasher,
		scheduler: scheduler,
		collector: collector,
		logger:    logger.With(slog.String("component", "service")),
		now:       time.Now,
	}
}

// Register creates an account and logs it in.
func (s *Service) Register(ctx context.Context, username, password string) (model.Account, string, error) {
	if err := (registration{Username: username, Password: password}).Validate(); err != nil {
		return model.Account{}, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return model.Account{}, "", fmt.Errorf("hash credential: %w", err)
	}

	account, err := s.accounts.Create(username, digest, s.now())
	if err != nil {
		return model.Account{}, "", err
	}
	s.flush()

	token, err := s.sessions.Create(account.ID)
	if err != nil {
		return model.Account{}, "", err
	}

	s.logger.Info("Account registered",
		slog.String("account", account.ID),
		slog.String("name", account.Name))

	return account, token, nil
}

// Login checks the credentials, bumps the last-authenticated instant and
// returns a new session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	account, ok := s.accounts.FindByName(username)
	if !ok {
		return "", ErrInvalidCredentials
	}

	match, err := s.hasher.Verify(account.Digest, password)
	if err != nil {
		s.logger.Warn("Stored digest is unreadable", slog.String("account", account.ID))
		return "", ErrInvalidCredentials
	}
	if !match {
		return "", ErrInvalidCredentials
	}

	if err := s.accounts.Touch(account.ID, s.now()); err != nil {
		// reaped between lookup and touch
		return "", ErrInvalidCredentials
	}
	s.flush()

	return s.sessions.Create(account.ID)
}

func (s *Service) Logout(token string) {
	s.sessions.Destroy(token)
}

// ResolveSession returns the account id behind token. A session whose account
// no longer exists is destroyed and treated as unauthenticated.
func (s *Service) ResolveSession(token string) (string, bool) {
	accountID, ok := s.sessions.Validate(token)
	if !ok {
		return "", false
	}
	if !s.accounts.Exists(accountID) {
		s.sessions.Destroy(token)
		return "", false
	}
	return accountID, true
}

// AddTarget appends url to the account's targets. Adding a URL twice leaves
// a single target.
func (s *Service) AddTarget(ctx context.Context, accountID, url string) error {
	if err := validateTargetURL(url); err != nil {
		return ErrInvalidURL
	}

	added, err := s.accounts.AddTarget(accountID, url)
	if err != nil {
		return err
	}
	if added {
		s.flush()
	}
	return nil
}

func (s *Service) RemoveTarget(ctx context.Context, accountID, url string) error {
	removed, err := s.accounts.RemoveTarget(accountID, url)
	if err != nil {
		return err
	}
	if removed {
		s.flush()
		s.collector.Emit(metrics.Event{Type: metrics.EventTargetRemoved, AccountID: accountID, Target: url})
	}
	return nil
}

// Targets lists the account's targets in insertion order.
func (s *Service) Targets(accountID string) ([]model.Target, error) {
	return s.accounts.Targets(accountID)
}

// TargetStats returns probe statistics for the account's targets, keyed by
// URL.
func (s *Service) TargetStats(accountID string) (map[string]metrics.TargetMetrics, error) {
	if !s.accounts.Exists(accountID) {
		return nil, accounts.ErrNotFound
	}
	return s.collector.TargetStats(accountID), nil
}

// PingNow probes every target of the account immediately.
func (s *Service) PingNow(ctx context.Context, accountID string) error {
	res, err := s.scheduler.PingAccount(ctx, accountID)
	if err != nil {
		return err
	}

	s.logger.Debug("Manual ping completed",
		slog.String("account", accountID),
		slog.Int("targets", res.Targets),
		slog.Int("failures", res.Failures))
	return nil
}

func (s *Service) flush() {
	if err := s.accounts.Flush(); err != nil {
		s.logger.Warn("Failed to persist accounts", slog.Any("err", err))
	}
}

// IsValidation reports whether err is a caller-input problem rather than an
// internal failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, accounts.ErrAlreadyExists)
}
