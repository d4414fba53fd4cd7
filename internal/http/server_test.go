package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"carelink/internal/auth"
	"carelink/internal/core"
	"carelink/internal/db"
	"carelink/internal/llm"
	"carelink/internal/lock"
	"carelink/pkg"
)

const password = "Secret123"

type model struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (m *model) Complete(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reply, m.err
}

func (m *model) set(reply string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply, m.err = reply, err
}

type harness struct {
	srv      *Server
	e        *echo.Echo
	analysis *model
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()
	store := db.NewMemoryStore()
	hub := db.NewHub()
	linkage := core.NewLinkageResolver(store, logger)
	accounts := core.NewAccountService(
		auth.NewLocalProvider(store, "identity-secret").WithCost(bcrypt.MinCost), store, linkage,
		auth.NewSessions("session-secret", time.Hour), logger)
	chatModel := llm.CompleterFunc(func(context.Context, string) (string, error) {
		return "I'm here to help.", nil
	})
	chat := core.NewChatService(chatModel, store, lock.NewLocal(), logger)
	h := &harness{analysis: &model{}}
	h.srv = NewServer(Services{
		Accounts: accounts,
		Access:   core.NewAccessGateway(linkage),
		Linkage:  linkage,
		Chat:     chat,
		Threads:  core.NewThreadService(store, linkage, logger),
		Analysis: core.NewSynthesizer(h.analysis, store, chat, linkage, hub, logger),
		Updates:  hub,
	}, logger, time.Hour, false)
	h.e = h.srv.Echo()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload string
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(raw)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (h *harness) doctor(t *testing.T, email, code string) (uid, token string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/doctors/signup", pkg.DoctorSignup{Email: email, Password: password, InviteCode: code}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return h.login(t, "doctors", email)
}

func (h *harness) patient(t *testing.T, email, code string) (uid, token string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/patients/signup", pkg.PatientSignup{
		Email: email, Password: password, Fullname: "Jane Doe", Username: "jane", Phone: "555-0100", InviteCode: code,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return h.login(t, "patients", email)
}

func (h *harness) login(t *testing.T, who, email string) (string, string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/"+who+"/login", pkg.Credentials{Email: email, Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[pkg.LoginResponse](t, rec)
	return res.UID, res.Token
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rec).Error
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestSignupLinksPatientAndLoginSetsCookie(t *testing.T) {
	h := newHarness(t)
	doctorUID, _ := h.doctor(t, "doc@example.com", "ABC123")

	rec := h.do(t, http.MethodPost, "/api/patients/signup", pkg.PatientSignup{
		Email: "jane@example.com", Password: password, Fullname: "Jane", Username: "jane", Phone: "555", InviteCode: "ABC123",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, doctorUID, decode[pkg.Patient](t, rec).LinkedDoctorUID)

	rec = h.do(t, http.MethodPost, "/api/patients/login", pkg.Credentials{Email: "jane@example.com", Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSignupErrors(t *testing.T) {
	h := newHarness(t)
	h.doctor(t, "doc@example.com", "ABC123")

	rec := h.do(t, http.MethodPost, "/api/doctors/signup", pkg.DoctorSignup{Email: "doc2@example.com", Password: "weak", InviteCode: "X"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Password must be at least 8 characters long", errorOf(t, rec))

	rec = h.do(t, http.MethodPost, "/api/doctors/signup", pkg.DoctorSignup{Email: "doc2@example.com", Password: password, InviteCode: "ABC123"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invite code already in use", errorOf(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/patients/signup", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", errorOf(t, rec))
}

func TestLoginErrors(t *testing.T) {
	h := newHarness(t)
	h.doctor(t, "doc@example.com", "ABC123")

	rec := h.do(t, http.MethodPost, "/api/doctors/login", pkg.Credentials{Email: "doc@example.com", Password: "Wrong1234"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorOf(t, rec))

	rec = h.do(t, http.MethodPost, "/api/patients/login", pkg.Credentials{Email: "doc@example.com", Password: password}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", errorOf(t, rec))
}

func TestRoleGates(t *testing.T) {
	h := newHarness(t)
	_, doctorToken := h.doctor(t, "doc@example.com", "ABC123")
	_, patientToken := h.patient(t, "jane@example.com", "ABC123")

	for _, tc := range []struct {
		method, path, token string
	}{
		{http.MethodGet, "/api/chat/history", ""},
		{http.MethodGet, "/api/chat/history", "garbage"},
		{http.MethodPost, "/api/chat", doctorToken},
		{http.MethodGet, "/api/messages", doctorToken},
		{http.MethodGet, "/api/doctor/patients", patientToken},
		{http.MethodGet, "/api/doctor/patients", ""},
	} {
		rec := h.do(t, tc.method, tc.path, nil, tc.token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "unauthorized", errorOf(t, rec))
	}
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	h.doctor(t, "doc@example.com", "ABC123")
	_, token := h.patient(t, "jane@example.com", "ABC123")

	rec := h.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "hello"}, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pkg.ChatResponse{Response: "I'm here to help."}, decode[pkg.ChatResponse](t, rec))

	rec = h.do(t, http.MethodGet, "/api/chat/history", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]pkg.Turn](t, rec)
	require.NotEmpty(t, history)
	assert.Equal(t, "hello", history[len(history)-1].User)

	rec = h.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "   "}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Message cannot be empty", errorOf(t, rec))
}

func TestDoctorLinkage(t *testing.T) {
	h := newHarness(t)
	_, d1 := h.doctor(t, "d1@example.com", "ABC123")
	_, d2 := h.doctor(t, "d2@example.com", "XYZ789")
	patientUID, _ := h.patient(t, "jane@example.com", "ABC123")

	rec := h.do(t, http.MethodGet, "/api/doctor/patients", nil, d1)
	require.Equal(t, http.StatusOK, rec.Code)
	patients := decode[[]pkg.Patient](t, rec)
	require.Len(t, patients, 1)
	assert.Equal(t, patientUID, patients[0].UID)

	rec = h.do(t, http.MethodGet, "/api/doctor/patients", nil, d2)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for _, path := range []string{"/history", "/analysis", "/messages"} {
		rec = h.do(t, http.MethodGet, "/api/doctor/patients/"+patientUID+path, nil, d2)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
		assert.Equal(t, "access denied", errorOf(t, rec))
	}
	rec = h.do(t, http.MethodGet, "/api/doctor/patients/"+patientUID+"/history", nil, d1)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalysis(t *testing.T) {
	h := newHarness(t)
	_, doctorToken := h.doctor(t, "doc@example.com", "ABC123")
	patientUID, patientToken := h.patient(t, "jane@example.com", "ABC123")
	path := "/api/doctor/patients/" + patientUID + "/analysis"

	rec := h.do(t, http.MethodGet, path, nil, doctorToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, path, nil, doctorToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No chat history.", decode[pkg.Snapshot](t, rec).Summary)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "I feel anxious"}, patientToken).Code)
	h.analysis.set("```json\n{\"summary\": \"Anxious but coping.\"}\n```", nil)
	rec = h.do(t, http.MethodPost, path, nil, doctorToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "null")

	rec = h.do(t, http.MethodGet, path, nil, doctorToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Anxious but coping.", decode[pkg.Snapshot](t, rec).Summary)

	h.analysis.set("not json at all", nil)
	rec = h.do(t, http.MethodPost, path, nil, doctorToken)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "an error occurred during analysis", errorOf(t, rec))

	h.analysis.set("", errors.New("upstream timeout"))
	rec = h.do(t, http.MethodPost, path, nil, doctorToken)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "an error occurred, please try again", errorOf(t, rec))

	rec = h.do(t, http.MethodGet, path, nil, doctorToken)
	assert.Equal(t, "Anxious but coping.", decode[pkg.Snapshot](t, rec).Summary)
}

func TestDirectMessages(t *testing.T) {
	h := newHarness(t)
	doctorUID, doctorToken := h.doctor(t, "doc@example.com", "ABC123")
	patientUID, patientToken := h.patient(t, "jane@example.com", "ABC123")
	_, loneToken := h.patient(t, "solo@example.com", "NOBODY")

	rec := h.do(t, http.MethodPost, "/api/doctor/patients/"+patientUID+"/messages", pkg.ChatRequest{Message: "How are you today?"}, doctorToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = h.do(t, http.MethodPost, "/api/messages", pkg.ChatRequest{Message: "Better, thanks."}, patientToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/messages", nil, patientToken)
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[[]pkg.DirectMessage](t, rec)
	require.Len(t, thread, 2)
	assert.Equal(t, doctorUID, thread[0].From)
	assert.Equal(t, patientUID, thread[1].From)

	rec = h.do(t, http.MethodGet, "/api/doctor/patients/"+patientUID+"/messages", nil, doctorToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, thread, decode[[]pkg.DirectMessage](t, rec))

	rec = h.do(t, http.MethodPost, "/api/messages", pkg.ChatRequest{Message: "Anyone there?"}, loneToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no linked doctor found for this patient", errorOf(t, rec))
}

func TestLogoutClearsCookie(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/logout", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestStreamAnalysis(t *testing.T) {
	h := newHarness(t)
	h.srv.Heartbeat = 20 * time.Millisecond
	_, doctorToken := h.doctor(t, "doc@example.com", "ABC123")
	patientUID, patientToken := h.patient(t, "jane@example.com", "ABC123")
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/chat", pkg.ChatRequest{Message: "hello"}, patientToken).Code)
	analysisPath := "/api/doctor/patients/" + patientUID + "/analysis"
	h.analysis.set(`{"summary": "first"}`, nil)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, analysisPath, nil, doctorToken).Code)

	ts := httptest.NewServer(h.e)
	defer ts.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+analysisPath+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+doctorToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	events := make(chan string, 8)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	next := func() string {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			return ev
		case <-ctx.Done():
			t.Fatal("no event before deadline")
		}
		return ""
	}

	first := next()
	assert.Contains(t, first, `"type":"analysis_update"`)
	assert.Contains(t, first, `"summary":"first"`)

	h.analysis.set(`{"summary": "second"}`, nil)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, analysisPath, nil, doctorToken).Code)
	assert.Contains(t, next(), `"summary":"second"`)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{&core.ValidationError{Reason: "Invalid email format"}, http.StatusBadRequest, "Invalid email format"},
		{core.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{core.ErrForbidden, http.StatusForbidden, "access denied"},
		{core.ErrNotFound, http.StatusNotFound, "not found"},
		{core.ErrNoLinkedDoctor, http.StatusBadRequest, "no linked doctor found for this patient"},
		{&core.UpstreamError{Op: "read users/p1", Err: errors.New("pq: connection refused")}, http.StatusBadGateway, "an error occurred, please try again"},
		{&core.AnalysisError{Err: errors.New("bad json")}, http.StatusBadGateway, "an error occurred during analysis"},
		{errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		status, msg := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.msg, msg)
		assert.NotContains(t, msg, "pq:")
	}
}
