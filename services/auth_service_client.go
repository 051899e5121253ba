// services/auth_service_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"economy-engine/models"
)

// AuthServiceClient resolves stream tokens to subjects via the auth service.
type AuthServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// ValidateResponse is the identity behind a validated token. Roles and Plan
// are normalized before they reach callers.
type ValidateResponse struct {
	UserID   string   `json:"user_id"`
	DeviceID string   `json:"device_id"`
	Roles    []string `json:"roles"`
	Plan     string   `json:"plan,omitempty"`
}

func NewAuthServiceClient(baseURL, token string) *AuthServiceClient {
	return &AuthServiceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateToken exchanges an access token and device id for a subject identity.
func (c *AuthServiceClient) ValidateToken(ctx context.Context, accessToken, deviceID string) (*ValidateResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"access_token": accessToken,
		"device_id":    deviceID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth/validate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode != http.StatusOK {
		log.Printf("[AUTH] validate for device %s returned %d: %s", deviceID, resp.StatusCode, string(raw))
		return nil, fmt.Errorf("token rejected: status %d", resp.StatusCode)
	}

	var identity ValidateResponse
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}
	if strings.TrimSpace(identity.UserID) == "" {
		return nil, fmt.Errorf("token rejected: no subject")
	}

	roles := make([]string, 0, len(identity.Roles))
	for _, r := range identity.Roles {
		roles = append(roles, string(NormalizeRole(r)))
	}
	if len(roles) == 0 {
		roles = append(roles, string(models.RoleMember))
	}
	identity.Roles = roles
	identity.Plan = string(NormalizePlan(identity.Plan))
	return &identity, nil
}
