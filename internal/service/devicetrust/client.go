package devicetrust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
)

// Device statuses as the trust service reports them
const (
	StatusTrusted    = "trusted"
	StatusPending    = "pending"
	StatusBlocked    = "blocked"
	StatusSuspicious = "suspicious"
)

// CheckRequest describes the device seen at login
type CheckRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	Fingerprint string    `json:"fingerprint"`
	Browser     string    `json:"browser,omitempty"`
	OS          string    `json:"os,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	RiskScore   int       `json:"risk_score"`
	RiskLevel   string    `json:"risk_level"`
}

type Verdict struct {
	Status string `json:"status"`
}

// Allowed reports whether the login may proceed on this device.
// Everything short of an explicit block is allowed: pending devices
// still work, they just sit in the approval queue.
func (v Verdict) Allowed() bool {
	return v.Status != StatusBlocked
}

// Checker is the decision point consulted after the credentials check out
type Checker interface {
	Check(ctx context.Context, userID uuid.UUID, info device.Info) (Verdict, error)
}

// Client talks to the device trust service over HTTP
type Client struct {
	addr   string
	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, l logger.Logger) *Client {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		addr:   addr,
		client: &http.Client{},
		logger: l,
	}
}

func (c *Client) Check(ctx context.Context, userID uuid.UUID, info device.Info) (Verdict, error) {
	var verdict Verdict

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(CheckRequest{
		UserID:      userID,
		Fingerprint: info.Fingerprint,
		Browser:     info.Browser,
		OS:          info.OS,
		DeviceType:  info.DeviceType,
		IPAddress:   info.IP,
		RiskScore:   info.RiskScore,
		RiskLevel:   info.RiskLevel,
	})
	if err != nil {
		return verdict, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.addr+"/api/devices/check", bytes.NewReader(body))
	if err != nil {
		return verdict, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return verdict, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Device trust service returned unexpected status", "status_code", resp.StatusCode)
		return verdict, fmt.Errorf("unexpected status code %d from device trust service", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return verdict, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("Device trust verdict", "user_id", userID, "fingerprint", info.Fingerprint, "status", verdict.Status)
	return verdict, nil
}

// AllowAll is the checker used when no trust service is configured
type AllowAll struct{}

func (AllowAll) Check(ctx context.Context, userID uuid.UUID, info device.Info) (Verdict, error) {
	return Verdict{Status: StatusTrusted}, nil
}
