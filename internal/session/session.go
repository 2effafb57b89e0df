// Package session holds the signed-in user's credential and profile.
//
// One Store exists per process. The credential and UI language are persisted
// to the settings table; the profile lives in memory and is rebuilt from
// /api/me on start.
package session

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/db"
	"github.com/hpungsan/kaia/internal/errors"
)

// Known subscription tiers. Tier values from the backend are open-ended.
const (
	TierTrial    = "Trial"
	TierBasic    = "Basic"
	TierPro      = "Pro"
	TierStandard = "Standard"
	TierPlatinum = "Platinum"
)

// Supported UI languages.
const (
	LangArabic  = "ar"
	LangEnglish = "en"
)

// Profile describes the signed-in user.
type Profile struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Tier        string `json:"tier"`
	Credits     int    `json:"credits"`
	IsAdmin     bool   `json:"is_admin"`
	IsVerified  bool   `json:"is_verified"`
}

// IsTrial reports whether the profile is on the trial tier.
func (p Profile) IsTrial() bool {
	return strings.EqualFold(p.Tier, TierTrial)
}

// OutOfTrialCredits reports whether a trial user has nothing left to spend.
// Admins are never blocked.
func (p Profile) OutOfTrialCredits() bool {
	return p.IsTrial() && p.Credits <= 0 && !p.IsAdmin
}

// Backend is the subset of the service client the store needs.
type Backend interface {
	Me(ctx context.Context, token string) (*backend.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, r backend.RegisterRequest) error
}

// Store owns the credential and profile.
type Store struct {
	db     *sql.DB
	client Backend

	mu         sync.RWMutex
	credential string
	profile    *Profile
	language   string
	listeners  []func(lang string)
}

// New creates a store. A nil database keeps everything in memory.
func New(database *sql.DB, client Backend, defaultLanguage string) *Store {
	return &Store{
		db:       database,
		client:   client,
		language: normalizeLanguage(defaultLanguage),
	}
}

// Init restores the persisted credential and language, then refreshes the
// profile. An expired credential is cleared and is not an error.
func (s *Store) Init(ctx context.Context) error {
	if s.db != nil {
		token, ok, err := db.GetSetting(s.db, db.SettingToken)
		if err != nil {
			return err
		}
		lang, langOK, err := db.GetSetting(s.db, db.SettingLanguage)
		if err != nil {
			return err
		}

		s.mu.Lock()
		if ok {
			s.credential = token
		}
		if langOK {
			s.language = normalizeLanguage(lang)
		}
		s.mu.Unlock()
	}

	if _, ok := s.Credential(); !ok {
		return nil
	}
	if _, err := s.RefreshProfile(ctx); err != nil {
		if errors.Is(err, errors.ErrUnauthenticated) {
			slog.Info("stored session expired")
			return nil
		}
		slog.Warn("profile refresh failed", "error", err)
	}
	return nil
}

// Credential returns the bearer credential, if any.
func (s *Store) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.credential != ""
}

// SetCredential stores and persists token. The profile is dropped until the
// next refresh.
func (s *Store) SetCredential(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.NewInvalidRequest("credential must not be empty")
	}
	if s.db != nil {
		if err := db.SetSetting(s.db, db.SettingToken, token); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.credential = token
	s.profile = nil
	s.mu.Unlock()
	return nil
}

// Clear drops the credential and profile and deletes the persisted token.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.credential = ""
	s.profile = nil
	s.mu.Unlock()

	if s.db != nil {
		return db.DeleteSetting(s.db, db.SettingToken)
	}
	return nil
}

// Profile returns a copy of the cached profile.
func (s *Store) Profile() (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return Profile{}, false
	}
	return *s.profile, true
}

// RefreshProfile fetches /api/me with the current credential. A rejected
// credential is cleared and UNAUTHENTICATED is returned. Transport failures
// keep the credential.
func (s *Store) RefreshProfile(ctx context.Context) (Profile, error) {
	token, ok := s.Credential()
	if !ok {
		return Profile{}, errors.NewNotLoggedIn()
	}

	u, err := s.client.Me(ctx, token)
	if err != nil {
		if errors.Is(err, errors.ErrUnauthenticated) {
			if clearErr := s.Clear(); clearErr != nil {
				slog.Error("failed to clear session", "error", clearErr)
			}
		}
		return Profile{}, err
	}

	p := profileFromUser(u)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A logout that raced the request wins.
	if s.credential != token {
		return Profile{}, errors.NewNotLoggedIn()
	}
	s.profile = &p
	return p, nil
}

// ApplyCreditUpdate overwrites the displayed credit count with n.
func (s *Store) ApplyCreditUpdate(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil {
		s.profile.Credits = n
	}
}

// Login signs in and loads the profile.
func (s *Store) Login(ctx context.Context, email, password string) (Profile, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return Profile{}, errors.NewInvalidRequest("email and password are required")
	}
	token, err := s.client.Login(ctx, email, password)
	if err != nil {
		return Profile{}, err
	}
	if err := s.SetCredential(token); err != nil {
		return Profile{}, err
	}
	return s.RefreshProfile(ctx)
}

// Register creates an account and signs in with it.
func (s *Store) Register(ctx context.Context, r backend.RegisterRequest) (Profile, error) {
	if err := s.client.Register(ctx, r); err != nil {
		return Profile{}, err
	}
	return s.Login(ctx, r.Email, r.Password)
}

// Logout clears the session.
func (s *Store) Logout() error {
	return s.Clear()
}

// Language returns the current UI language.
func (s *Store) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// ParseLanguage canonicalizes lang to one of the supported codes.
func ParseLanguage(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang != LangArabic && lang != LangEnglish {
		return "", errors.NewInvalidRequest("unsupported language: " + lang)
	}
	return lang, nil
}

// ResolveLanguage returns the UI language when lang is empty, otherwise
// the parsed lang.
func (s *Store) ResolveLanguage(lang string) (string, error) {
	if strings.TrimSpace(lang) == "" {
		return s.Language(), nil
	}
	return ParseLanguage(lang)
}

// SetLanguage switches and persists the UI language, then notifies
// listeners so views can re-render.
func (s *Store) SetLanguage(lang string) error {
	lang, err := ParseLanguage(lang)
	if err != nil {
		return err
	}
	if s.db != nil {
		if err := db.SetSetting(s.db, db.SettingLanguage, lang); err != nil {
			return err
		}
	}

	s.mu.Lock()
	changed := s.language != lang
	s.language = lang
	listeners := append([]func(string){}, s.listeners...)
	s.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(lang)
		}
	}
	return nil
}

// OnLanguageChange registers fn to run after each language switch.
func (s *Store) OnLanguageChange(fn func(lang string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func profileFromUser(u *backend.User) Profile {
	name := strings.TrimSpace(u.FullName)
	if name == "" {
		name = u.Email
	}
	tier := strings.TrimSpace(u.Tier)
	if tier == "" {
		tier = TierTrial
	}
	credits := u.Credits
	if credits < 0 {
		credits = 0
	}
	return Profile{
		DisplayName: name,
		Email:       u.Email,
		Tier:        tier,
		Credits:     credits,
		IsAdmin:     u.IsAdmin,
		IsVerified:  u.IsVerified,
	}
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == LangEnglish {
		return LangEnglish
	}
	return LangArabic
}
