// Command emrelayd is the relay daemon and its own service wrapper
// (spec.md §4.7, §6): "service_wrapper [--install [name [display]] |
// --remove [name] | --help]", default action entering the service
// dispatch loop. Under the hood the wrapper launches the actual relay
// loop as a supervised child process (re-invoking itself with the
// hidden --serve flag), mirroring the teacher's own process-launching
// service wrapper rather than running the listeners directly inside
// the SCM dispatch thread.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"zgo.at/emrelay/internal/authstore"
	"zgo.at/emrelay/internal/config"
	"zgo.at/emrelay/internal/forward"
	"zgo.at/emrelay/internal/install"
	"zgo.at/emrelay/internal/secrets"
	"zgo.at/emrelay/internal/spool"
	"zgo.at/emrelay/internal/svc"
	"zgo.at/emrelay/pop3d"
	"zgo.at/emrelay/smtpd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg         config.Config
		install     bool
		installName string
		installDisp string
		remove      bool
		removeName  string
		serve       bool
		serviceName string
	)

	cmd := &cobra.Command{
		Use:           "emrelayd",
		Short:         "store-and-forward SMTP/POP3 relay and its service wrapper",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case install:
				name := installName
				if name == "" {
					name = serviceName
				}
				disp := installDisp
				if disp == "" {
					disp = "emrelay store-and-forward relay"
				}
				return runInstall(&cfg, name, disp, childArgv(cmd, serviceName))
			case remove:
				name := removeName
				if name == "" {
					name = serviceName
				}
				return svc.Remove(name)
			case serve:
				return runRelay(&cfg)
			default:
				sup := &svc.Supervisor{Logger: cfg.Logger()}
				return svc.Run(serviceName, childArgv(cmd, serviceName), sup)
			}
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&serviceName, "name", "emrelayd", "service name used for --install/--remove and the SCM")
	flags.BoolVar(&install, "install", false, "install as a platform service, then exit")
	flags.StringVar(&installName, "install-name", "", "service name to install as (defaults to --name)")
	flags.StringVar(&installDisp, "install-display", "", "display name to install with")
	flags.BoolVar(&remove, "remove", false, "remove the installed service, then exit")
	flags.StringVar(&removeName, "remove-name", "", "service name to remove (defaults to --name)")
	flags.BoolVar(&serve, "serve", false, "run the relay loop directly instead of the supervisor (internal; used by --install's generated command line)")
	flags.MarkHidden("serve")

	flags.StringVar(&cfg.SecretsPath, "secrets", "", "path to the secrets file (required)")
	flags.StringVar(&cfg.Filter, "filter", "", "server-side SASL mechanism filter (M:/X:/A:/D: fragments)")
	flags.StringVar(&cfg.ClientFilter, "client-filter", "", "client-side SASL mechanism filter, used when forwarding")
	flags.StringVar(&cfg.ChallengeDomain, "challenge-domain", "", "domain embedded in CRAM/APOP challenges (default: local hostname)")
	flags.BoolVar(&cfg.AllowAPOP, "allow-apop", false, "offer APOP on the POP3 listener")
	flags.StringVar(&cfg.SMTPAddr, "smtp-addr", ":587", "SMTP submission/relay listen address")
	flags.StringVar(&cfg.POP3Addr, "pop3-addr", "", "POP3 listen address (empty disables POP3)")
	flags.StringVar(&cfg.SpoolDir, "spool-dir", "", "directory for the on-disk message spool (required)")
	flags.StringVar(&cfg.ForwardAddr, "forward-addr", "", "upstream SMTP relay address (empty disables forwarding)")
	flags.DurationVar(&cfg.ForwardInterval, "forward-interval", time.Minute, "how often to attempt forwarding the spool")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	flags.StringVar(&cfg.PIDFile, "pid-file", "", "file to write the daemon's process id to")

	return cmd
}

// childArgv reconstructs the command line the supervisor or installer
// should launch: the same binary and flags, with --serve appended and
// --install/--remove stripped, so the supervised child runs the relay
// loop directly rather than recursing into another supervisor.
func childArgv(cmd *cobra.Command, serviceName string) []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	argv := []string{exe, "--serve", "--name=" + serviceName}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "install", "install-name", "install-display", "remove", "remove-name", "serve", "name":
			return
		}
		argv = append(argv, "--"+f.Name+"="+f.Value.String())
	})
	return argv
}

// runInstall prepares the on-disk state --install needs (the spool
// directory, a start script recording the exact command line the
// service will launch) before registering the service itself, running
// each step through install.Runner so a failure partway through is
// reported with the same ok/failed-outcome shape spec.md §4.8 gives the
// original installer wizard.
func runInstall(cfg *config.Config, name, displayName string, argv []string) error {
	scriptPath := name + "-start.sh"
	if len(argv) > 0 {
		if exe, err := os.Executable(); err == nil {
			scriptPath = filepath.Join(filepath.Dir(exe), name+"-start.sh")
		}
	}

	var actions []install.Action
	if cfg.SpoolDir != "" {
		actions = append(actions, &install.MkdirAction{Path: cfg.SpoolDir})
	}
	actions = append(actions, &install.WriteStartScriptAction{
		Path:    scriptPath,
		Command: argv,
	})

	runner := install.NewRunner(actions, install.Vars{"name": name})
	for _, o := range runner.RunAll() {
		if o.Err != nil {
			return fmt.Errorf("emrelayd: %s", o.Message)
		}
		fmt.Fprintln(os.Stderr, o.Message)
	}

	if err := svc.Install(name, displayName, argv); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "installed service %q\n", name)
	return nil
}

// runRelay binds the SMTP/POP3 listeners and runs until the process
// receives SIGINT/SIGTERM, the mode cmd/emrelayd's supervised child runs
// in (spec.md §5's "serving continues until an external stop signal").
func runRelay(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.Logger()
	if err := cfg.WritePID(); err != nil {
		log.WithError(err).Warn("emrelayd: failed to write pid file")
	}

	secretsStore, err := secrets.Load(cfg.SecretsPath)
	if err != nil {
		return fmt.Errorf("emrelayd: %w", err)
	}
	spoolStore, err := spool.Open(cfg.SpoolDir)
	if err != nil {
		return fmt.Errorf("emrelayd: %w", err)
	}
	auth := authstore.New(secretsStore)

	smtpSrv := smtpd.NewServer(spoolStore, auth,
		smtpd.WithAddr(cfg.SMTPAddr),
		smtpd.WithLogger(log),
		smtpd.WithSASLFilter(cfg.Filter),
		smtpd.WithChallengeDomain(cfg.ChallengeDomain),
		smtpd.WithAPOP(cfg.AllowAPOP),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		if err := smtpSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("smtpd: %w", err)
		}
	}()

	var pop3Srv *pop3d.Server
	if cfg.POP3Addr != "" {
		pop3Srv = pop3d.NewServer(pop3d.NewSpoolMailboxProvider(spoolStore), auth,
			pop3d.WithAddr(cfg.POP3Addr),
			pop3d.WithLogger(log),
			pop3d.WithSASLFilter(cfg.Filter),
			pop3d.WithChallengeDomain(cfg.ChallengeDomain),
			pop3d.WithAPOP(cfg.AllowAPOP),
		)
		go func() {
			if err := pop3Srv.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("pop3d: %w", err)
			}
		}()
	}

	if cfg.ForwardAddr != "" {
		fwd := &forward.Forwarder{
			Spool:      spoolStore,
			Secrets:    secretsStore,
			Addr:       cfg.ForwardAddr,
			SASLFilter: cfg.ClientFilter,
			Logger:     log,
		}
		go runForwardLoop(ctx, fwd, cfg.ForwardInterval)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.WithError(err).Error("emrelayd: listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	smtpSrv.Shutdown(shutdownCtx)
	if pop3Srv != nil {
		pop3Srv.Shutdown(shutdownCtx)
	}
	return nil
}

func runForwardLoop(ctx context.Context, fwd *forward.Forwarder, interval time.Duration) {
	if interval <= 0 {
		fwd.ForwardAll()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	fwd.ForwardAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fwd.ForwardAll()
		}
	}
}
