// Package audit configures storage appliances to forward their audit
// logs to the capture service, using each vendor's management REST API.
// Controller errors never abort a protocol run; the runner logs them
// and keeps going, and Clear is attempted on every exit path.
package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nascert/internal/config"
)

// Destination is the syslog endpoint an appliance should forward audit
// events to. Protocol is "udp" or "tcp".
type Destination struct {
	Address  string
	Port     int
	Protocol string
}

// Controller manages the audit forwarding configuration of one
// appliance family. Configure is idempotent: an "already configured"
// response counts as success. Clear is idempotent the same way: a
// "nothing to remove" response counts as success.
type Controller interface {
	Configure(ctx context.Context, appliance config.Appliance, dest Destination) error
	Clear(ctx context.Context, appliance config.Appliance, dest Destination) error
}

// ControllerFor returns the controller matching the appliance vendor.
func ControllerFor(appliance config.Appliance) (Controller, error) {
	vendor := strings.ToUpper(appliance.Vendor)
	switch {
	case strings.Contains(vendor, "NETAPP"):
		return NewONTAPController(), nil
	case strings.Contains(vendor, "DELL"):
		return NewOneFSController(), nil
	default:
		return nil, fmt.Errorf("no audit controller for vendor %q", appliance.Vendor)
	}
}

// StatusError is a non-retryable REST failure carrying the response
// status the appliance returned.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

func newHTTPClient(verifyTLS bool, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !verifyTLS},
		},
	}
}
