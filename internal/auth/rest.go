package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTProvider talks to a hosted identity service exposing the
// identity-toolkit style accounts:signUp, accounts:signInWithPassword and
// accounts:lookup endpoints.
type RESTProvider struct {
	client *resty.Client
}

type restCredentials struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type restTokenResponse struct {
	LocalID string `json:"localId"`
	IDToken string `json:"idToken"`
}

type restLookupResponse struct {
	Users []struct {
		LocalID string `json:"localId"`
	} `json:"users"`
}

type restError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewRESTProvider(baseURL, apiKey string, timeout time.Duration) *RESTProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetQueryParam("key", apiKey).
		SetHeader("Content-Type", "application/json")
	return &RESTProvider{client: c}
}

func (p *RESTProvider) CreateAccount(ctx context.Context, email, password string) (string, error) {
	var out restTokenResponse
	if err := p.post(ctx, "/accounts:signUp", restCredentials{Email: email, Password: password, ReturnSecureToken: true}, &out); err != nil {
		return "", err
	}
	return out.LocalID, nil
}

func (p *RESTProvider) SignIn(ctx context.Context, email, password string) (string, error) {
	var out restTokenResponse
	if err := p.post(ctx, "/accounts:signInWithPassword", restCredentials{Email: email, Password: password, ReturnSecureToken: true}, &out); err != nil {
		return "", err
	}
	return out.IDToken, nil
}

func (p *RESTProvider) Verify(ctx context.Context, token string) (string, error) {
	var out restLookupResponse
	if err := p.post(ctx, "/accounts:lookup", map[string]string{"idToken": token}, &out); err != nil {
		return "", err
	}
	if len(out.Users) == 0 || out.Users[0].LocalID == "" {
		return "", ErrInvalidToken
	}
	return out.Users[0].LocalID, nil
}

func (p *RESTProvider) post(ctx context.Context, path string, body, result any) error {
	var apiErr restError
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("identity %s: %w", path, err)
	}
	if resp.IsError() {
		if mapped := mapRESTError(apiErr.Error.Message); mapped != nil {
			return mapped
		}
		return fmt.Errorf("identity %s: status %d: %s", path, resp.StatusCode(), apiErr.Error.Message)
	}
	return nil
}

func mapRESTError(message string) error {
	switch message {
	case "EMAIL_EXISTS":
		return ErrAccountExists
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return ErrInvalidCredentials
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "USER_NOT_FOUND":
		return ErrInvalidToken
	}
	return nil
}
