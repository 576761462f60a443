package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"nascert/internal/config"
)

// OneFSController drives the Dell PowerScale (OneFS) platform API.
// Audit forwarding is a single global settings document updated with
// PUT, so both Configure and Clear are naturally idempotent.
type OneFSController struct {
	baseURL string

	requestTimeout time.Duration
	maxElapsed     time.Duration
}

// NewOneFSController returns a controller with production timeouts.
func NewOneFSController() *OneFSController {
	return &OneFSController{
		requestTimeout: 30 * time.Second,
		maxElapsed:     30 * time.Second,
	}
}

func (c *OneFSController) urlFor(appliance config.Appliance) string {
	base := c.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s:8080/platform", appliance.Management.Address)
	}
	return base + "/audit/settings/global"
}

// onefsHostname derives the cluster name OneFS reports in its syslog
// records from the management address: the first label, up to the
// first dash.
func onefsHostname(address string) string {
	host := strings.SplitN(address, ".", 2)[0]
	return strings.SplitN(host, "-", 2)[0]
}

// Configure enables protocol, config, and system auditing and points
// all three syslog feeds at the destination.
func (c *OneFSController) Configure(ctx context.Context, appliance config.Appliance, dest Destination) error {
	server := fmt.Sprintf("%s:%d", dest.Address, dest.Port)
	payload := map[string]interface{}{
		"hostname":                    onefsHostname(appliance.Management.Address),
		"audited_zones":               []string{"System"},
		"auto_purging_enabled":        true,
		"retention_period":            7,
		"config_auditing_enabled":     true,
		"config_syslog_enabled":       true,
		"config_syslog_servers":       []string{server},
		"protocol_auditing_enabled":   true,
		"protocol_syslog_servers":     []string{server},
		"protocol_syslog_tls_enabled": false,
		"system_auditing_enabled":     true,
		"system_syslog_enabled":       true,
		"system_syslog_servers":       []string{server},
	}
	return c.put(ctx, appliance, "configure audit settings", payload)
}

// Clear restores the audit settings document to its disabled defaults.
func (c *OneFSController) Clear(ctx context.Context, appliance config.Appliance, dest Destination) error {
	payload := map[string]interface{}{
		"hostname":                  "",
		"audited_zones":             []string{},
		"auto_purging_enabled":      false,
		"retention_period":          180,
		"cee_server_uris":           []string{},
		"config_auditing_enabled":   false,
		"config_syslog_enabled":     false,
		"config_syslog_servers":     []string{},
		"protocol_auditing_enabled": false,
		"protocol_syslog_servers":   []string{},
		"system_syslog_enabled":     false,
		"system_syslog_servers":     []string{},
	}
	return c.put(ctx, appliance, "clear audit settings", payload)
}

func (c *OneFSController) put(ctx context.Context, appliance config.Appliance, op string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	client := newHTTPClient(appliance.Management.VerifyTLS, c.requestTimeout)
	url := c.urlFor(appliance)

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.SetBasicAuth(appliance.Management.Username, appliance.Management.Password)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
		if resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}
