package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/richinsley/namedsem"
)

// exitTempFail is EX_TEMPFAIL from sysexits.h, used when run times out.
const exitTempFail = 75

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Command returns the root command.
func Command(ctx context.Context) *cobra.Command {
	cfg, cfgErr := loadConfig(ctx)
	if cfg == nil {
		cfg = &Config{KeyDir: namedsem.DefaultKeyDir, LogLevel: "info"}
	}
	root := &cobra.Command{
		Use:           "namedsem",
		Short:         "Named cross-process semaphores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return cfgErr
		},
	}
	cfg.addFlags(root.PersistentFlags())
	root.AddCommand(
		pathCommand(cfg),
		createCommand(cfg),
		valueCommand(cfg),
		runCommand(cfg),
		removeCommand(cfg),
		eventsCommand(),
	)
	return root
}

// withSession runs fn with a session built from the parsed configuration.
func withSession(cmd *cobra.Command, cfg *Config, fn func(*session) error) error {
	s, err := cfg.session(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func pathCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "path NAME",
		Args:  cobra.ExactArgs(1),
		Short: "Print the key-file path for a name",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := namedsem.Options{KeyDir: cfg.KeyDir}
			fmt.Fprintln(cmd.OutOrStdout(), opts.KeyFilePath(args[0]))
			return nil
		},
	}
}

func createCommand(cfg *Config) *cobra.Command {
	var value int
	cmd := &cobra.Command{
		Use:   "create NAME",
		Args:  cobra.ExactArgs(1),
		Short: "Create a semaphore, or reset the count of an existing one",
		Long: "Create the named semaphore with --value permits. If it already exists its count\n" +
			"is reset. The semaphore stays in place after the command exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, cfg, func(s *session) error {
				sem, err := namedsem.CreateNamedSemaphore(args[0], value, s.opts)
				if err != nil {
					return err
				}
				key, _ := sem.SysVKey()
				s.log.WithField("key", fmt.Sprintf("0x%08x", uint32(key))).Infof("%s ready with %d permit(s)", args[0], value)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&value, "value", 1, "initial number of permits")
	return cmd
}

func valueCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "value NAME",
		Args:  cobra.ExactArgs(1),
		Short: "Print the current count and number of waiters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, cfg, func(s *session) error {
				sem, err := namedsem.OpenNamedSemaphore(args[0], s.opts)
				if err != nil {
					return err
				}
				// Closing only destroys the object if opening created it.
				defer sem.Close()
				v, err := sem.Value()
				if err != nil {
					return err
				}
				w, err := sem.Waiters()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "value=%d waiters=%d\n", v, w)
				return nil
			})
		},
	}
}

func runCommand(cfg *Config) *cobra.Command {
	var timeout time.Duration
	var count int
	cmd := &cobra.Command{
		Use:   "run NAME -- COMMAND [ARGUMENTS]",
		Args:  cobra.MinimumNArgs(2),
		Short: "Run a command while holding permits",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.Errorf("--count must be positive, got %d", count)
			}
			// Flag parsing stops at NAME, so a separating "--" arrives as an argument.
			argv := args[1:]
			if argv[0] == "--" {
				argv = argv[1:]
			}
			if len(argv) == 0 {
				return errors.New("no command given")
			}
			return withSession(cmd, cfg, func(s *session) error {
				sem, err := namedsem.OpenNamedSemaphore(args[0], s.opts)
				if err != nil {
					return err
				}
				return runHolding(cmd, s, sem, count, timeout, argv)
			})
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after waiting this long (0 waits forever)")
	cmd.Flags().IntVar(&count, "count", 1, "number of permits to hold")
	return cmd
}

func runHolding(cmd *cobra.Command, s *session, sem *namedsem.NamedSemaphore, count int, timeout time.Duration, argv []string) error {
	if timeout > 0 {
		res, err := sem.AdjustTimeout(-count, timeout)
		switch res {
		case namedsem.OpTimedOut:
			s.log.Warnf("timed out after %s waiting for %s", timeout, sem.Key())
			return &exitError{code: exitTempFail}
		case namedsem.OpError:
			return err
		}
	} else if err := sem.Adjust(-count); err != nil {
		return err
	}
	s.log.Debugf("holding %d permit(s) of %s", count, sem.Key())

	child := exec.CommandContext(cmd.Context(), argv[0], argv[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	runErr := child.Run()

	if err := sem.Release(count); err != nil {
		s.log.WithError(err).Error("releasing permits")
	}
	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		return &exitError{code: ee.ExitCode()}
	}
	return runErr
}

func removeCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Args:  cobra.ExactArgs(1),
		Short: "Destroy a semaphore and its key-file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, cfg, func(s *session) error {
				sem := namedsem.NewNamedSemaphore(s.opts)
				if err := sem.Configure(args[0], -1, namedsem.Create); err != nil {
					return err
				}
				return sem.Remove()
			})
		},
	}
}

func eventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events FILE",
		Args:  cobra.ExactArgs(1),
		Short: "Print an event log written with --events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return printEvents(cmd.OutOrStdout(), namedsem.NewEventReader(f))
		},
	}
}

func printEvents(out io.Writer, r *namedsem.EventReader) error {
	for {
		ev, err := r.Receive()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s %-18s %s key=0x%08x semid=%d",
			ev.Time.Format(time.RFC3339Nano), ev.Kind, ev.Name, uint32(ev.Key), ev.SemID)
		if ev.Delta != 0 {
			line += fmt.Sprintf(" delta=%d", ev.Delta)
		}
		if ev.Err != "" {
			line += " error=" + ev.Err
		}
		fmt.Fprintln(out, line)
	}
}
