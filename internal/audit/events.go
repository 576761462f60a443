package audit

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"nascert/internal/config"
	"nascert/pkg/logging"
)

// netappAuditCommands are benign administrative commands that provoke
// login and configuration-change records in the ONTAP audit log. The
// created role is removed again before the list ends.
var netappAuditCommands = []string{
	"version",
	"set diag",
	"system timeout modify 0",
	`set -showseparator "|"; security login role show -fields vserver,role,cmddirname,access,query`,
	`security login role create -role audit_test_role -cmddirname "DEFAULT" -access all`,
	"system timeout modify 10",
	"security login role delete -role audit_test_role -cmddirname *",
}

// EventGenerator provokes audit records by running administrative
// commands on the appliance over SSH. Command failures are logged and
// skipped; only a connection failure is returned as an error.
type EventGenerator struct {
	// dial is swapped out by tests.
	dial func(network, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

	connectTimeout time.Duration
}

// NewEventGenerator returns a generator with production timeouts.
func NewEventGenerator() *EventGenerator {
	return &EventGenerator{
		dial:           ssh.Dial,
		connectTimeout: 15 * time.Second,
	}
}

// commandsFor returns the command list for the appliance vendor, or
// nil when no event generation is defined for it.
func commandsFor(vendor string) []string {
	if strings.Contains(strings.ToUpper(vendor), "NETAPP") {
		return netappAuditCommands
	}
	return nil
}

// Generate connects to the appliance management address and runs the
// vendor's command list. Appliances without a defined command list are
// skipped silently.
func (g *EventGenerator) Generate(ctx context.Context, appliance config.Appliance) error {
	commands := commandsFor(appliance.Vendor)
	if len(commands) == 0 {
		logging.Debug("Audit", "No audit event commands defined for vendor %s, skipping", appliance.Vendor)
		return nil
	}

	cfg := &ssh.ClientConfig{
		User: appliance.Management.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(appliance.Management.Password),
		},
		// The appliances under test are lab systems reached by
		// address from the run configuration; host keys are not
		// pre-distributed.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         g.connectTimeout,
	}

	addr := net.JoinHostPort(appliance.Management.Address, "22")
	client, err := g.dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer client.Close()

	for _, command := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.runCommand(client, command); err != nil {
			logging.Warn("Audit", "Audit event command failed on %s: %q: %v",
				appliance.Management.Address, command, err)
			continue
		}
		logging.Debug("Audit", "Ran audit event command on %s: %q", appliance.Management.Address, command)
	}
	return nil
}

func (g *EventGenerator) runCommand(client *ssh.Client, command string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(command)
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
