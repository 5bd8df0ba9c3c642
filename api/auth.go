package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"creditflow/logger"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login authenticates with the backend and returns the issued access token.
// The backend also sets the refresh cookie on this call; the client's jar
// keeps it for later RefreshToken calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	log := c.log.WithComponent("api").WithFields(logger.Fields{"operation": "login"})

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	res, err := c.do(ctx, http.MethodPost, "/login", "", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.WithFields(logger.Fields{"status": res.StatusCode}).Warn("login rejected")
		return "", fmt.Errorf("login rejected with status %d", res.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("login response carries no access token")
	}

	log.Info("login succeeded")
	return body.AccessToken, nil
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new backend account.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	payload, err := json.Marshal(registerRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("failed to marshal register payload: %w", err)
	}

	res, err := c.do(ctx, http.MethodPost, "/register", "", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("register request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("register rejected with status %d", res.StatusCode)
	}
	return nil
}

// RefreshToken exchanges the refresh cookie for a new access token. It
// implements session.Refresher.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	log := c.log.WithComponent("api").WithFields(logger.Fields{"operation": "refresh_token"})

	res, err := c.do(ctx, http.MethodPost, "/refresh-token", "", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.WithFields(logger.Fields{"status": res.StatusCode}).Warn("token refresh rejected")
		return "", fmt.Errorf("token refresh rejected with status %d", res.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("refresh response carries no access token")
	}
	return body.AccessToken, nil
}
