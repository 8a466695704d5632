package shimclient

import (
	"context"
	"net/http"

	"fieldsync/pkg/domain"
)

type sessionResponse struct {
	User  domain.Profile `json:"user"`
	Token string         `json:"token"`
}

// Login signs in and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Profile, error) {
	var resp sessionResponse
	payload := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "login.php", nil, payload, &resp); err != nil {
		return domain.Profile{}, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

func (c *Client) Register(ctx context.Context, email, password, phone, name string) (domain.Profile, error) {
	var resp sessionResponse
	payload := map[string]string{"email": email, "password": password, "phone": phone, "name": name}
	if err := c.doJSON(ctx, http.MethodPost, "register.php", nil, payload, &resp); err != nil {
		return domain.Profile{}, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

func (c *Client) GoogleLogin(ctx context.Context, idToken string) (domain.Profile, error) {
	var resp sessionResponse
	payload := map[string]string{"id_token": idToken}
	if err := c.doJSON(ctx, http.MethodPost, "google_login.php", nil, payload, &resp); err != nil {
		return domain.Profile{}, err
	}
	c.SetToken(resp.Token)
	return resp.User, nil
}

// ForgotPassword asks for a reset code by email.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	payload := map[string]string{"email": email, "action": "request"}
	return c.doJSON(ctx, http.MethodPost, "forgot_password.php", nil, payload, nil)
}

// ResetPassword confirms a reset code and sets a new password.
func (c *Client) ResetPassword(ctx context.Context, email, code, password string) error {
	payload := map[string]string{"email": email, "action": "reset", "code": code, "password": password}
	return c.doJSON(ctx, http.MethodPost, "forgot_password.php", nil, payload, nil)
}

// Logout revokes the session and forgets the token even if the call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "logout.php", nil, nil, nil)
	c.SetToken("")
	return err
}
