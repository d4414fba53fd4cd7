package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"carelink/internal/auth"
	"carelink/internal/db"
	"carelink/internal/llm"
	"carelink/internal/lock"
	"carelink/pkg"
)

// -- Fakes --

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	db.Store
	getErr    error
	updateErr error
	queryErr  error
}

func (f *faultyStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.Get(ctx, path)
}

func (f *faultyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.Store.Update(ctx, path, fields)
}

func (f *faultyStore) QueryEqual(ctx context.Context, path, field, value string) ([]db.Child, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.QueryEqual(ctx, path, field, value)
}

// scriptedModel answers every prompt with reply (or err) and records calls.
type scriptedModel struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (m *scriptedModel) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var _ llm.Completer = (*scriptedModel)(nil)

type fakeAccount struct {
	uid      string
	password string
}

// fakeIdentity keeps accounts in memory; tokens are "token:<uid>".
type fakeIdentity struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount
	down     error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{accounts: make(map[string]fakeAccount)}
}

func (f *fakeIdentity) CreateAccount(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down != nil {
		return "", f.down
	}
	if _, ok := f.accounts[email]; ok {
		return "", auth.ErrAccountExists
	}
	uid := uuid.NewString()
	f.accounts[email] = fakeAccount{uid: uid, password: password}
	return uid, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down != nil {
		return "", f.down
	}
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		return "", auth.ErrInvalidCredentials
	}
	return "token:" + acc.uid, nil
}

func (f *fakeIdentity) Verify(_ context.Context, token string) (string, error) {
	if len(token) <= len("token:") {
		return "", auth.ErrInvalidToken
	}
	return token[len("token:"):], nil
}

func (f *fakeIdentity) ResetPassword(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[email]
	if !ok {
		return "", auth.ErrInvalidCredentials
	}
	acc.password = password
	f.accounts[email] = acc
	return acc.uid, nil
}

type countingPublisher struct {
	notified atomic.Int64
	last     atomic.Value
}

func (p *countingPublisher) Notify(_ context.Context, patientUID string) error {
	p.notified.Add(1)
	p.last.Store(patientUID)
	return nil
}

// -- Fixture --

type fixture struct {
	store     *faultyStore
	chatModel *scriptedModel
	model     *scriptedModel
	identity  *fakeIdentity
	publisher *countingPublisher
	linkage   *LinkageResolver
	access    *AccessGateway
	chat      *ChatService
	analysis  *Synthesizer
	threads   *ThreadService
	accounts  *AccountService
	seeder    *Seeder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		store:     &faultyStore{Store: db.NewMemoryStore()},
		chatModel: &scriptedModel{reply: "I'm here to help."},
		model:     &scriptedModel{},
		identity:  newFakeIdentity(),
		publisher: &countingPublisher{},
	}
	f.linkage = NewLinkageResolver(f.store, logger)
	f.access = NewAccessGateway(f.linkage)
	f.chat = NewChatService(f.chatModel, f.store, lock.NewLocal(), logger)
	f.analysis = NewSynthesizer(f.model, f.store, f.chat, f.linkage, f.publisher, logger)
	f.threads = NewThreadService(f.store, f.linkage, logger)
	f.accounts = NewAccountService(f.identity, f.store, f.linkage, auth.NewSessions("test-secret", 0), logger)
	f.seeder = NewSeeder(f.identity, f.store, f.linkage, logger)
	return f
}

func (f *fixture) putDoctor(t *testing.T, uid, code string) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), db.Join(doctorsPath, uid), pkg.Doctor{Email: uid + "@example.com", InviteCode: code}))
}

func (f *fixture) putPatient(t *testing.T, uid, code, linked string) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), db.Join(usersPath, uid), pkg.Patient{
		Fullname: "Patient " + uid, Username: uid, Email: uid + "@example.com", Phone: "555",
		InviteCode: code, LinkedDoctorUID: linked,
	}))
}

func (f *fixture) patient(t *testing.T, uid string) *pkg.Patient {
	t.Helper()
	p, err := f.linkage.Patient(context.Background(), uid)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

var errStoreDown = errors.New("store unavailable")
