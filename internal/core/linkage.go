package core

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"carelink/internal/db"
	"carelink/pkg"
)

const (
	usersPath   = "users"
	doctorsPath = "doctors"

	fieldLinkedDoctor  = "linkedDoctorUID"
	fieldPatientInvite = "invite_code"
	fieldDoctorInvite  = "inviteCode"
)

// LinkageResolver answers which patients belong to which doctor and repairs
// missing links lazily from invite codes.
type LinkageResolver struct {
	store db.Store
	log   zerolog.Logger

	backfillFailures atomic.Int64
}

func NewLinkageResolver(store db.Store, logger zerolog.Logger) *LinkageResolver {
	return &LinkageResolver{store: store, log: logger.With().Str("component", "linkage").Logger()}
}

// BackfillFailures counts linkage writes that failed since start.
func (r *LinkageResolver) BackfillFailures() int64 { return r.backfillFailures.Load() }

// Patient loads users/<uid>.  A missing record yields (nil, nil).
func (r *LinkageResolver) Patient(ctx context.Context, uid string) (*pkg.Patient, error) {
	var p pkg.Patient
	ok, err := r.load(ctx, db.Join(usersPath, uid), &p)
	if err != nil || !ok {
		return nil, err
	}
	p.UID = uid
	return &p, nil
}

// Doctor loads doctors/<uid>.  A missing record yields (nil, nil).
func (r *LinkageResolver) Doctor(ctx context.Context, uid string) (*pkg.Doctor, error) {
	var d pkg.Doctor
	ok, err := r.load(ctx, db.Join(doctorsPath, uid), &d)
	if err != nil || !ok {
		return nil, err
	}
	d.UID = uid
	return &d, nil
}

// DoctorForInviteCode returns the doctor owning code, or "" when none does.
// If legacy data holds several doctors with the same code the one with the
// smallest uid wins.
func (r *LinkageResolver) DoctorForInviteCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", nil
	}
	doctors, err := r.store.QueryEqual(ctx, doctorsPath, fieldDoctorInvite, code)
	if err != nil {
		return "", upstream("query doctors by invite code", err)
	}
	if len(doctors) == 0 {
		return "", nil
	}
	if len(doctors) > 1 {
		r.log.Warn().Str("invite_code", code).Int("doctors", len(doctors)).
			Str("chosen", doctors[0].Key).Msg("invite code shared by several doctors")
	}
	return doctors[0].Key, nil
}

// ListPatients returns the patients of doctorUID.  Explicit links are
// authoritative once any exist; otherwise patients are derived from the
// doctor's invite code and their link is written back.
func (r *LinkageResolver) ListPatients(ctx context.Context, doctorUID string) ([]pkg.Patient, error) {
	linked, err := r.store.QueryEqual(ctx, usersPath, fieldLinkedDoctor, doctorUID)
	if err != nil {
		return nil, upstream("query linked patients", err)
	}
	if len(linked) > 0 {
		return decodePatients(linked), nil
	}

	doctor, err := r.Doctor(ctx, doctorUID)
	if err != nil {
		return nil, err
	}
	if doctor == nil || doctor.InviteCode == "" {
		return []pkg.Patient{}, nil
	}
	owner, err := r.DoctorForInviteCode(ctx, doctor.InviteCode)
	if err != nil {
		return nil, err
	}
	if owner != doctorUID {
		return []pkg.Patient{}, nil
	}
	viaCode, err := r.store.QueryEqual(ctx, usersPath, fieldPatientInvite, doctor.InviteCode)
	if err != nil {
		return nil, upstream("query patients by invite code", err)
	}

	// A link to another doctor is never overwritten.
	patients := lo.Filter(decodePatients(viaCode), func(p pkg.Patient, _ int) bool {
		return p.LinkedDoctorUID == "" || p.LinkedDoctorUID == doctorUID
	})
	for i := range patients {
		if patients[i].LinkedDoctorUID == "" {
			r.backfill(ctx, doctorUID, patients[i].UID)
		}
		patients[i].LinkedDoctorUID = doctorUID
	}
	return patients, nil
}

// IsLinked reports whether patientUID is linked to doctorUID.  Any read
// failure counts as not linked.  An unlinked patient whose invite code is
// owned by doctorUID counts as linked; the record itself is only written by
// ListPatients, so this check never mutates the store.
func (r *LinkageResolver) IsLinked(ctx context.Context, doctorUID, patientUID string) bool {
	if doctorUID == "" || patientUID == "" {
		return false
	}
	p, err := r.Patient(ctx, patientUID)
	if err != nil {
		r.log.Error().Err(err).Str("patient_uid", patientUID).Msg("linkage check failed")
		return false
	}
	if p == nil {
		return false
	}
	if p.LinkedDoctorUID != "" {
		return p.LinkedDoctorUID == doctorUID
	}
	owner, err := r.DoctorForInviteCode(ctx, p.InviteCode)
	if err != nil {
		r.log.Error().Err(err).Str("patient_uid", patientUID).Msg("linkage check failed")
		return false
	}
	return owner == doctorUID
}

func (r *LinkageResolver) backfill(ctx context.Context, doctorUID, patientUID string) {
	err := r.store.Update(ctx, db.Join(usersPath, patientUID), map[string]any{fieldLinkedDoctor: doctorUID})
	if err != nil {
		total := r.backfillFailures.Add(1)
		r.log.Warn().Err(err).
			Str("doctor_uid", doctorUID).
			Str("patient_uid", patientUID).
			Int64("failures_total", total).
			Msg("linkage backfill failed")
		return
	}
	r.log.Debug().Str("doctor_uid", doctorUID).Str("patient_uid", patientUID).Msg("linkage backfilled")
}

func (r *LinkageResolver) load(ctx context.Context, path string, into any) (bool, error) {
	raw, err := r.store.Get(ctx, path)
	if err != nil {
		return false, upstream("read "+path, err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, upstream("decode "+path, err)
	}
	return true, nil
}

func decodePatients(children []db.Child) []pkg.Patient {
	return lo.FilterMap(children, func(c db.Child, _ int) (pkg.Patient, bool) {
		var p pkg.Patient
		if json.Unmarshal(c.Value, &p) != nil {
			return p, false
		}
		p.UID = c.Key
		return p, true
	})
}
