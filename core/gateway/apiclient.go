// Package gateway is the WebSocket presence service. It authenticates
// connections against the REST API, tracks per-connection liveness and
// relays status updates.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIClient is the gateway's HTTP client for the REST API. The gateway never
// touches the store directly; every account operation goes through the API.
type APIClient struct {
	baseURL   string
	masterKey string
	http      *http.Client
}

func NewAPIClient(baseURL, masterKey string) *APIClient {
	return &APIClient{
		baseURL:   baseURL,
		masterKey: masterKey,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// apiResponse is the API's {statusCode, data?|message?} envelope.
type apiResponse struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func (r *apiResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Principal is the account payload the API returns on login.
type Principal struct {
	Username    string `json:"username"`
	AvatarURL   string `json:"avatarUrl"`
	Token       string `json:"token"`
	JWT         string `json:"jwt"`
	Permissions struct {
		Allowed int `json:"allowed"`
		Denied  int `json:"denied"`
	} `json:"permissions"`
	Status struct {
		Current string `json:"current"`
		Song    string `json:"song,omitempty"`
	} `json:"status"`
}

func (c *APIClient) post(path, authorization string, body any) (*apiResponse, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}
	return &out, nil
}

// Login validates credentials with the master key and returns the account.
func (c *APIClient) Login(username, password string) (*Principal, error) {
	resp, err := c.post("/accounts/login", c.masterKey, map[string]any{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("login rejected: %s", resp.Message)
	}
	var principal Principal
	if err := json.Unmarshal(resp.Data, &principal); err != nil {
		return nil, fmt.Errorf("decode principal: %w", err)
	}
	return &principal, nil
}

// MintSession trades an account token for a fresh session token.
func (c *APIClient) MintSession(accountToken string) (string, error) {
	resp, err := c.post("/accounts/jwt", "Account "+accountToken, nil)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", fmt.Errorf("session mint rejected: %s", resp.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode session token: %w", err)
	}
	return data.Token, nil
}

// ValidateSession reports whether the session token still resolves.
func (c *APIClient) ValidateSession(sessionToken string) (bool, error) {
	resp, err := c.post("/accounts/jwt/validate", "Bearer "+sessionToken, nil)
	if err != nil {
		return false, err
	}
	return resp.ok(), nil
}

// UpdateStatus sets the account's presence through the account update route.
func (c *APIClient) UpdateStatus(sessionToken, current, song string) error {
	status := map[string]any{"current": current}
	if song != "" {
		status["song"] = song
	}
	resp, err := c.post("/accounts", "Bearer "+sessionToken, map[string]any{
		"data": map[string]any{
			"set": map[string]any{"status": status},
		},
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("status update rejected: %s", resp.Message)
	}
	return nil
}
