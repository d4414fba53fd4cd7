package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"carelink/internal/auth"
	"carelink/internal/db"
	"carelink/pkg"
)

// AccountService handles signup and login for both roles.  Credentials live
// with the identity provider; profile and linkage records live in the store.
type AccountService struct {
	identity auth.Provider
	store    db.Store
	linkage  *LinkageResolver
	sessions *auth.Sessions
	log      zerolog.Logger

	// inviteMu keeps invite codes unique within this process.
	inviteMu sync.Mutex
}

func NewAccountService(identity auth.Provider, store db.Store, linkage *LinkageResolver, sessions *auth.Sessions, logger zerolog.Logger) *AccountService {
	return &AccountService{
		identity: identity,
		store:    store,
		linkage:  linkage,
		sessions: sessions,
		log:      logger.With().Str("component", "accounts").Logger(),
	}
}

// SignupPatient creates the account and the users/<uid> record.  When a
// doctor owns the given invite code the patient is linked immediately.
func (s *AccountService) SignupPatient(ctx context.Context, in pkg.PatientSignup) (*pkg.Patient, error) {
	p := pkg.Patient{
		Fullname:   Sanitize(in.Fullname),
		Username:   Sanitize(in.Username),
		Email:      normalizeEmail(in.Email),
		Phone:      Sanitize(in.Phone),
		InviteCode: Sanitize(in.InviteCode),
	}
	if p.Email == "" || in.Password == "" || p.Fullname == "" || p.Username == "" || p.Phone == "" || p.InviteCode == "" {
		return nil, invalid("All required fields must be filled")
	}
	if err := validateEmail(p.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	uid, err := s.createAccount(ctx, p.Email, in.Password)
	if err != nil {
		return nil, err
	}
	doctorUID, err := s.linkage.DoctorForInviteCode(ctx, p.InviteCode)
	if err != nil {
		return nil, err
	}
	p.LinkedDoctorUID = doctorUID
	if err := s.store.Set(ctx, db.Join(usersPath, uid), p); err != nil {
		return nil, upstream("write patient", err)
	}
	s.log.Info().Str("patient_uid", uid).Bool("linked", doctorUID != "").Msg("patient signed up")
	p.UID = uid
	return &p, nil
}

// SignupDoctor creates the account and the doctors/<uid> record.  Invite
// codes already owned by another doctor are rejected.
func (s *AccountService) SignupDoctor(ctx context.Context, in pkg.DoctorSignup) (*pkg.Doctor, error) {
	d := pkg.Doctor{
		Email:      normalizeEmail(in.Email),
		InviteCode: Sanitize(in.InviteCode),
	}
	if d.Email == "" || in.Password == "" || d.InviteCode == "" {
		return nil, invalid("All required fields must be filled")
	}
	if err := validateEmail(d.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	s.inviteMu.Lock()
	defer s.inviteMu.Unlock()
	owner, err := s.linkage.DoctorForInviteCode(ctx, d.InviteCode)
	if err != nil {
		return nil, err
	}
	if owner != "" {
		return nil, fmt.Errorf("%w: invite code already in use", ErrConflict)
	}
	uid, err := s.createAccount(ctx, d.Email, in.Password)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, db.Join(doctorsPath, uid), d); err != nil {
		return nil, upstream("write doctor", err)
	}
	s.log.Info().Str("doctor_uid", uid).Msg("doctor signed up")
	d.UID = uid
	return &d, nil
}

// Login verifies credentials with the identity provider and issues a
// session for role.  Accounts without a record for that role are refused.
func (s *AccountService) Login(ctx context.Context, role pkg.Role, email, password string) (*pkg.LoginResponse, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("Email and password are required")
	}
	token, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, upstream("sign in", err)
	}
	uid, err := s.identity.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
		}
		return nil, upstream("verify token", err)
	}

	switch role {
	case pkg.RoleDoctor:
		d, err := s.linkage.Doctor(ctx, uid)
		if err != nil {
			return nil, err
		}
		if d == nil || d.Email != email {
			return nil, fmt.Errorf("%w: not a doctor account", ErrForbidden)
		}
	case pkg.RolePatient:
		p, err := s.linkage.Patient(ctx, uid)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: not a patient account", ErrForbidden)
		}
	default:
		return nil, ErrUnauthorized
	}

	session, err := s.sessions.Issue(uid, role)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &pkg.LoginResponse{Token: session, UID: uid, Role: role}, nil
}

// Authenticate maps a session token to its principal.
func (s *AccountService) Authenticate(token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &Principal{UID: claims.Subject, Role: claims.Role}, nil
}

func (s *AccountService) createAccount(ctx context.Context, email, password string) (string, error) {
	uid, err := s.identity.CreateAccount(ctx, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrAccountExists) {
			return "", fmt.Errorf("%w: an account with this email already exists", ErrConflict)
		}
		return "", upstream("create account", err)
	}
	return uid, nil
}
