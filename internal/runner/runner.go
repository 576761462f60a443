// Package runner orchestrates a full conformance run: per appliance it
// starts the syslog capture service, configures audit forwarding,
// provokes audit events, then mounts and tests each matching target in
// sequence, writing one report per target.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"

	"nascert/internal/audit"
	"nascert/internal/config"
	"nascert/internal/harness"
	"nascert/internal/mount"
	"nascert/internal/report"
	"nascert/internal/suites"
	"nascert/internal/syslogd"
	"nascert/pkg/logging"
)

// clearTimeout bounds the audit cleanup call. Cleanup runs on every
// exit path, including context cancellation, so it gets its own
// deadline instead of the run context.
const clearTimeout = time.Minute

// Runner executes the configured conformance run.
type Runner struct {
	cfg     config.Config
	targets []*mount.Target
	dryRun  bool

	// Quiet suppresses the drain-wait spinner, for non-interactive runs.
	Quiet bool

	cases          []harness.Case
	mounter        mount.Mounter
	controllerFor  func(config.Appliance) (audit.Controller, error)
	generateEvents func(context.Context, config.Appliance) error
	sleep          func(time.Duration)
	now            func() time.Time
}

// New builds a runner over the loaded configuration. dryRun propagates
// to the mount manager: mount commands are logged, never executed, and
// no tests run.
func New(cfg config.Config, targets []*mount.Target, dryRun bool) *Runner {
	manager := mount.NewManager()
	manager.DryRun = dryRun
	generator := audit.NewEventGenerator()
	return &Runner{
		cfg:            cfg,
		targets:        targets,
		dryRun:         dryRun,
		cases:          suites.All(),
		mounter:        manager,
		controllerFor:  audit.ControllerFor,
		generateEvents: generator.Generate,
		sleep:          time.Sleep,
		now:            time.Now,
	}
}

// Run executes the whole configured run and returns the aggregate
// summary across all appliances and targets. Per-appliance and
// per-target failures are logged and do not abort the run; only a
// failure to prepare the output directory does.
func (r *Runner) Run(ctx context.Context) (harness.Summary, error) {
	if err := os.MkdirAll(r.cfg.Output.Dir, 0755); err != nil {
		return harness.Summary{}, fmt.Errorf("preparing output directory: %w", err)
	}

	aggregate := &harness.Recorder{}
	assigned := make(map[*mount.Target]bool)

	for _, appliance := range r.cfg.Appliances {
		matched := r.targetsFor(appliance)
		for _, target := range matched {
			assigned[target] = true
		}
		if len(matched) == 0 {
			logging.Warn("Runner", "No targets match appliance %s %s, skipping it",
				appliance.Vendor, appliance.Software)
			continue
		}
		r.runAppliance(ctx, appliance, matched, aggregate)
	}

	// Targets without a managing appliance still get mounted and
	// tested; they just run without audit capture.
	for _, target := range r.targets {
		if assigned[target] {
			continue
		}
		logging.Warn("Runner", "Target %s has no matching appliance, running without audit capture",
			target.Source())
		r.runTarget(ctx, target, r.now().Format(stampLayout), aggregate)
	}

	return aggregate.Summarize(), nil
}

const stampLayout = "20060102-150405"

// targetsFor returns the targets managed by the appliance, in
// configuration order. Vendor must match; software narrows the match
// only when both sides declare one.
func (r *Runner) targetsFor(appliance config.Appliance) []*mount.Target {
	var matched []*mount.Target
	for _, target := range r.targets {
		if !strings.EqualFold(target.Vendor, appliance.Vendor) {
			continue
		}
		if target.Software != "" && appliance.Software != "" &&
			!strings.EqualFold(target.Software, appliance.Software) {
			continue
		}
		matched = append(matched, target)
	}
	return matched
}

func (r *Runner) runAppliance(ctx context.Context, appliance config.Appliance, targets []*mount.Target, aggregate *harness.Recorder) {
	stamp := r.now().Format(stampLayout)
	label := sanitizeName(appliance.Vendor + "-" + appliance.Software)

	logging.Info("Runner", "Starting run for %s %s (%d targets)",
		appliance.Vendor, appliance.Software, len(targets))

	// The capture service must be up before anything can provoke an
	// audit event, so it starts first and stops last.
	capturePath := filepath.Join(r.cfg.Output.Dir, fmt.Sprintf("syslog-%s-%s.log", label, stamp))
	capture, err := syslogd.NewCapture(capturePath, r.cfg.Output.OwnerUID, r.cfg.Output.OwnerGID)
	if err != nil {
		logging.Error("Runner", err, "Cannot create syslog capture file, running without capture")
	}

	var server *syslogd.Server
	if capture != nil {
		defer func() {
			if closeErr := capture.Close(); closeErr != nil {
				logging.Warn("Runner", "Closing capture file: %v", closeErr)
			}
			logging.Info("Runner", "Captured %d syslog records to %s", capture.Count(), capture.Path())
		}()

		server = syslogd.NewServer(capture)
		if err := server.Start(r.cfg.Syslog.Host, r.cfg.Syslog.Port); err != nil {
			logging.Error("Runner", err, "Syslog capture unavailable for %s", appliance.Vendor)
			server = nil
		}
	}
	if server != nil {
		defer func() {
			if stopErr := server.Stop(); stopErr != nil {
				logging.Warn("Runner", "Stopping syslog capture: %v", stopErr)
			}
		}()
	}

	dest := audit.Destination{
		Address:  appliance.Syslog.Server,
		Port:     appliance.Syslog.Port,
		Protocol: appliance.Syslog.Protocol,
	}

	controller, err := r.controllerFor(appliance)
	if err != nil {
		logging.Warn("Runner", "Audit configuration skipped: %v", err)
	} else {
		// Forwarding must be torn down again no matter how this run
		// ends, and exactly once.
		defer func() {
			clearCtx, cancel := context.WithTimeout(context.Background(), clearTimeout)
			defer cancel()
			if clearErr := controller.Clear(clearCtx, appliance, dest); clearErr != nil {
				logging.Warn("Runner", "Clearing audit forwarding on %s: %v",
					appliance.Management.Address, clearErr)
			}
		}()

		if err := controller.Configure(ctx, appliance, dest); err != nil {
			logging.Warn("Runner", "Configuring audit forwarding on %s: %v",
				appliance.Management.Address, err)
		}
		if err := r.generateEvents(ctx, appliance); err != nil {
			logging.Warn("Runner", "Generating audit events on %s: %v",
				appliance.Management.Address, err)
		}
		r.drain("appliance-side audit buffering")
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			logging.Warn("Runner", "Run cancelled, %s not tested: %v", target.Source(), err)
			continue
		}
		r.runTarget(ctx, target, stamp, aggregate)
	}

	r.drain("trailing syslog delivery")
}

// runTarget mounts one target, runs every eligible case against it,
// writes its report, and unmounts. A mount failure skips the target's
// tests; the run continues.
func (r *Runner) runTarget(ctx context.Context, target *mount.Target, stamp string, aggregate *harness.Recorder) {
	logging.Info("Runner", "Testing %s target %s (%s mount, %s host access)",
		target.VersionLabel(), target.Source(), target.MountType, target.HostAccess)

	uid := r.cfg.Output.OwnerUID
	gid := r.cfg.Output.OwnerGID

	handle, err := r.mounter.Mount(ctx, target, uid, gid)
	if err != nil {
		logging.Error("Runner", err, "Mount failed for %s, skipping its tests", target.Source())
		return
	}
	defer func() {
		unmountCtx, cancel := context.WithTimeout(context.Background(), clearTimeout)
		defer cancel()
		if err := r.mounter.Unmount(unmountCtx, handle, true, true); err != nil {
			logging.Warn("Runner", "Unmounting %s: %v", target.Source(), err)
		}
	}()

	if r.dryRun {
		logging.Info("Runner", "Dry run: no tests executed for %s", target.Source())
		return
	}

	started := time.Now()
	rec := &harness.Recorder{}
	engine := &harness.Engine{}
	engine.Run(ctx, r.cases, harness.Env{MountPoint: handle.MountPoint, Target: target}, rec)
	duration := time.Since(started)

	results := rec.Results()
	summary := rec.Summarize()
	logging.Info("Runner", "%s: %d tests, %d passed, %d failed",
		target.Source(), summary.Total, summary.Passed, summary.Failed)

	w := report.NewWriter("NAS PROTOCOL CONFORMANCE REPORT")
	w.AddMetadata("Vendor", target.Vendor)
	w.AddMetadata("Software", target.Software)
	w.AddMetadata("Target", target.Source())
	w.AddMetadata("Protocol", target.VersionLabel())
	w.AddMetadata("Mount options", target.MountOptions())
	w.AddMetadata("Host access", string(target.HostAccess))
	w.AddMetadata("Date", r.now().Format(time.RFC3339))
	w.AddMetadata("Duration", duration.Round(time.Millisecond).String())
	w.AddResults(results)

	reportPath := filepath.Join(r.cfg.Output.Dir, fmt.Sprintf("report-%s-%s-%s.txt",
		sanitizeName(target.Vendor), sanitizeName(target.VersionLabel()), stamp))
	if err := w.Generate(reportPath, summary, uid, gid); err != nil {
		logging.Error("Runner", err, "Report for %s not written", target.Source())
	}

	for _, res := range results {
		aggregate.Record(res)
	}
}

func (r *Runner) drain(reason string) {
	wait := time.Duration(r.cfg.Syslog.DrainWaitSeconds) * time.Second
	if wait <= 0 {
		return
	}
	logging.Debug("Runner", "Waiting %s for %s", wait, reason)
	if !r.Quiet {
		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Waiting %s for %s...", wait, reason)
		s.Start()
		defer s.Stop()
	}
	r.sleep(wait)
}

// sanitizeName makes a label safe for use in a file name.
func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "-", "/", "-", ":", "-", ".", "-")
	return replacer.Replace(name)
}
