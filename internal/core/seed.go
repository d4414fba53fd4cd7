package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"carelink/internal/auth"
	"carelink/internal/db"
	"carelink/pkg"
)

// SeedOptions describes the demo doctor/patient pair to create.
type SeedOptions struct {
	DoctorEmail     string
	DoctorPassword  string
	InviteCode      string
	PatientEmail    string
	PatientPassword string
	ResetPasswords  bool
	SeedChat        bool
}

// SeedResult reports the seeded accounts.  LinkedDoctorUID is the doctor
// owning the invite code, which differs from DoctorUID when another doctor
// already held it.
type SeedResult struct {
	DoctorUID       string
	DoctorCreated   bool
	PatientUID      string
	PatientCreated  bool
	LinkedDoctorUID string
}

// Seeder creates demo accounts and data.  Running it twice is safe.
type Seeder struct {
	identity auth.Provider
	store    db.Store
	linkage  *LinkageResolver
	log      zerolog.Logger
}

func NewSeeder(identity auth.Provider, store db.Store, linkage *LinkageResolver, logger zerolog.Logger) *Seeder {
	return &Seeder{identity: identity, store: store, linkage: linkage, log: logger.With().Str("component", "seed").Logger()}
}

var sampleChat = []pkg.Turn{
	{User: "Hi, I have been feeling mild headaches since yesterday.", AI: "Thanks for sharing. On a scale of 1-10, how intense are they?"},
	{User: "Maybe a 4. I also didn&#39;t sleep well.", AI: "That can contribute. Stay hydrated and rest today. If it worsens to 7+, consider seeing a doctor."},
}

const sampleDirectMessage = "Please monitor your symptoms and update me tomorrow."

func (s *Seeder) Run(ctx context.Context, opts SeedOptions) (*SeedResult, error) {
	if opts.DoctorEmail == "" || opts.DoctorPassword == "" || opts.InviteCode == "" ||
		opts.PatientEmail == "" || opts.PatientPassword == "" {
		return nil, invalid("doctor email/password, invite code and patient email/password are required")
	}
	doctorEmail := normalizeEmail(opts.DoctorEmail)
	patientEmail := normalizeEmail(opts.PatientEmail)
	code := Sanitize(opts.InviteCode)

	var res SeedResult
	var err error
	res.DoctorUID, res.DoctorCreated, err = s.ensureAccount(ctx, doctorEmail, opts.DoctorPassword, opts.ResetPasswords)
	if err != nil {
		return nil, fmt.Errorf("doctor account: %w", err)
	}
	res.LinkedDoctorUID, err = s.ensureDoctor(ctx, res.DoctorUID, doctorEmail, code)
	if err != nil {
		return nil, err
	}
	res.PatientUID, res.PatientCreated, err = s.ensureAccount(ctx, patientEmail, opts.PatientPassword, opts.ResetPasswords)
	if err != nil {
		return nil, fmt.Errorf("patient account: %w", err)
	}
	if err := s.ensurePatient(ctx, res.PatientUID, patientEmail, code, res.LinkedDoctorUID); err != nil {
		return nil, err
	}

	if opts.SeedChat {
		if err := s.store.Set(ctx, db.Join(chatsPath, res.PatientUID), sampleChat); err != nil {
			return nil, upstream("seed chat", err)
		}
		_, err := s.store.Push(ctx, db.Join(directMessagesPath, res.PatientUID), map[string]any{
			"from":      res.LinkedDoctorUID,
			"message":   sampleDirectMessage,
			"timestamp": db.ServerTimestamp,
		})
		if err != nil {
			return nil, upstream("seed direct message", err)
		}
	}
	s.log.Info().
		Str("doctor_uid", res.DoctorUID).Bool("doctor_created", res.DoctorCreated).
		Str("patient_uid", res.PatientUID).Bool("patient_created", res.PatientCreated).
		Bool("chat", opts.SeedChat).Msg("seeding complete")
	return &res, nil
}

func (s *Seeder) ensureAccount(ctx context.Context, email, password string, reset bool) (string, bool, error) {
	uid, err := s.identity.CreateAccount(ctx, email, password)
	if err == nil {
		return uid, true, nil
	}
	if !errors.Is(err, auth.ErrAccountExists) {
		return "", false, err
	}
	if reset {
		resetter, ok := s.identity.(auth.PasswordResetter)
		if !ok {
			return "", false, errors.New("identity provider cannot reset passwords")
		}
		uid, err := resetter.ResetPassword(ctx, email, password)
		return uid, false, err
	}
	token, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		return "", false, fmt.Errorf("existing account: %w", err)
	}
	uid, err = s.identity.Verify(ctx, token)
	return uid, false, err
}

// ensureDoctor keeps an invite code with the doctor already owning it and
// returns that owner.
func (s *Seeder) ensureDoctor(ctx context.Context, uid, email, code string) (string, error) {
	owner, err := s.linkage.DoctorForInviteCode(ctx, code)
	if err != nil {
		return "", err
	}
	fields := map[string]any{"email": email}
	if owner == "" || owner == uid {
		fields[fieldDoctorInvite] = code
		owner = uid
	} else {
		s.log.Warn().Str("invite_code", code).Str("owner", owner).Msg("invite code already owned, doctor seeded without it")
	}
	if err := s.store.Update(ctx, db.Join(doctorsPath, uid), fields); err != nil {
		return "", upstream("seed doctor", err)
	}
	return owner, nil
}

// ensurePatient writes a minimal record without erasing fields that already
// exist.
func (s *Seeder) ensurePatient(ctx context.Context, uid, email, code, doctorUID string) error {
	record := map[string]any{
		"email":            email,
		fieldPatientInvite: code,
		fieldLinkedDoctor:  doctorUID,
	}
	raw, err := s.store.Get(ctx, db.Join(usersPath, uid))
	if err != nil {
		return upstream("read patient", err)
	}
	if raw != nil {
		var existing map[string]any
		if err := json.Unmarshal(raw, &existing); err == nil {
			for k, v := range existing {
				record[k] = v
			}
		}
	}
	if err := s.store.Set(ctx, db.Join(usersPath, uid), record); err != nil {
		return upstream("seed patient", err)
	}
	return nil
}
