package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"nascert/internal/config"
)

// ONTAPController drives the NetApp ONTAP REST API. Forwarding
// destinations live under /api/security/audit/destinations; each
// destination is keyed by address and port.
type ONTAPController struct {
	// baseURL overrides the https://{management}/api default. Tests
	// point it at a local server.
	baseURL string

	requestTimeout time.Duration
	maxElapsed     time.Duration
}

// NewONTAPController returns a controller with production timeouts.
func NewONTAPController() *ONTAPController {
	return &ONTAPController{
		requestTimeout: 30 * time.Second,
		maxElapsed:     30 * time.Second,
	}
}

func (c *ONTAPController) urlFor(appliance config.Appliance, endpoint string) string {
	base := c.baseURL
	if base == "" {
		base = fmt.Sprintf("https://%s/api", appliance.Management.Address)
	}
	return base + endpoint
}

// ontapProtocol maps the config protocol name to the enum ONTAP expects.
func ontapProtocol(protocol string) string {
	if strings.Contains(strings.ToLower(protocol), "udp") {
		return "udp_unencrypted"
	}
	return "tcp_unencrypted"
}

// Configure creates the forwarding destination. ONTAP answers 409
// Conflict when the destination already exists, which is exactly the
// state Configure wants, so 409 counts as success.
func (c *ONTAPController) Configure(ctx context.Context, appliance config.Appliance, dest Destination) error {
	payload := map[string]interface{}{
		"address":                   dest.Address,
		"port":                      strconv.Itoa(dest.Port),
		"protocol":                  ontapProtocol(dest.Protocol),
		"facility":                  "user",
		"verify_server":             false,
		"message_format":            "rfc_5424",
		"hostname_format_override":  "hostname_only",
		"timestamp_format_override": "iso_8601_utc",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling destination: %w", err)
	}

	url := c.urlFor(appliance, "/security/audit/destinations")
	return c.do(ctx, appliance, "configure audit destination", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, func(status int) bool {
		return status == http.StatusOK || status == http.StatusCreated ||
			status == http.StatusAccepted || status == http.StatusConflict
	})
}

// Clear removes the forwarding destination. A 404 means there was
// nothing to remove, which counts as success.
func (c *ONTAPController) Clear(ctx context.Context, appliance config.Appliance, dest Destination) error {
	url := c.urlFor(appliance, fmt.Sprintf("/security/audit/destinations/%s/%d", dest.Address, dest.Port))
	return c.do(ctx, appliance, "clear audit destination", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	}, func(status int) bool {
		return status == http.StatusOK || status == http.StatusAccepted ||
			status == http.StatusNoContent || status == http.StatusNotFound
	})
}

// do issues the request with exponential backoff. Transport errors and
// 5xx responses are retried; any other unacceptable status is permanent.
func (c *ONTAPController) do(ctx context.Context, appliance config.Appliance, op string,
	newRequest func() (*http.Request, error), accept func(int) bool) error {

	client := newHTTPClient(appliance.Management.VerifyTLS, c.requestTimeout)

	attempt := func() error {
		req, err := newRequest()
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(appliance.Management.Username, appliance.Management.Password)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if accept(resp.StatusCode) {
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
