// Package cli implements the taskctl command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskpilot-client/internal/auth"
	"taskpilot-client/internal/cache"
	"taskpilot-client/internal/client"
	"taskpilot-client/internal/config"
	"taskpilot-client/internal/dispatch"
	"taskpilot-client/internal/logging"
	"taskpilot-client/internal/models"
	"taskpilot-client/internal/poller"
	"taskpilot-client/internal/retry"
	"taskpilot-client/internal/store"
)

var (
	configFile string
	baseURL    string
	authToken  string
)

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:          "taskctl",
		Short:        "Client for the task planner API",
		Long:         "taskctl talks to the task planner API with bounded concurrency,\nretries, response caching and optimistic local state.",
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (env vars still win)")
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "override the API base URL")
	root.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for the API")

	root.AddCommand(
		buildListCommand(),
		buildCreateCommand(),
		buildUpdateCommand(),
		buildDeleteCommand(),
		buildClearCommand(),
		buildParseCommand(),
		buildPlanCommand(),
		buildStatusCommand(),
	)
	return root
}

// app is the wired client core shared by all subcommands.
type app struct {
	cfg     config.Config
	ctrl    *dispatch.Controller
	store   *store.TaskStore
	cache   cache.Cache
	session *auth.Session
}

func newApp() (*app, error) {
	cfg := config.Load()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
	}
	if baseURL != "" {
		cfg.APIBaseURL = baseURL
	}
	if authToken != "" {
		cfg.AuthToken = authToken
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.Setup(cfg.LogLevel)
	hub := auth.NewHub()
	session := auth.NewSession(hub)
	if cfg.AuthToken != "" {
		if err := session.SetToken(cfg.AuthToken); err != nil {
			return nil, fmt.Errorf("auth token: %w", err)
		}
	}

	var respCache cache.Cache
	if cfg.CacheBackend == config.CacheRedis {
		respCache = cache.NewRedis(cfg)
	} else {
		respCache = cache.NewMemory(cfg.CacheSweepInterval)
	}

	api := client.New(cfg.APIBaseURL, cfg.RequestTimeout, session, respCache, cfg.CacheTTL, log)
	api.SetEventHub(hub)
	ctrl := dispatch.New(cfg.MaxConcurrent, log)

	policy := retry.Policy{MaxRetries: cfg.RetryMax, Delay: cfg.RetryBaseDelay}
	st := store.New(api, ctrl, poller.New(log), session, store.Options{
		ReadRetry:  policy,
		WriteRetry: policy,
		Poll:       poller.Options{Interval: cfg.PollInterval, MaxAttempts: cfg.PollMaxAttempts},
	}, log)

	return &app{cfg: cfg, ctrl: ctrl, store: st, cache: respCache, session: session}, nil
}

func (a *app) Close() {
	_ = a.cache.Close()
}

// run wires signal handling around fn and tears the app down afterwards.
func run(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
			<-ch
			cancel()
		}()

		return fn(ctx, a)
	}
}

func buildListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: run(func(ctx context.Context, a *app) error {
			if err := a.store.Refresh(ctx); err != nil {
				return err
			}
			tasks := a.store.Snapshot()
			if len(tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			printTasks(tasks)
			return nil
		}),
	}
}

func buildCreateCommand() *cobra.Command {
	var (
		title     string
		start     string
		end       string
		priority  string
		important bool
		reminder  string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: run(func(ctx context.Context, a *app) error {
			startAt, err := parseTime(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			payload := models.TaskCreate{
				Title:        title,
				Start:        startAt,
				Priority:     priority,
				IsImportant:  important,
				ReminderType: reminder,
			}
			if end != "" {
				endAt, err := parseTime(end)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				payload.End = &endAt
			}
			task, err := a.store.Create(ctx, payload)
			if err != nil {
				return err
			}
			fmt.Printf("created %s  %s\n", task.ID, task.Title)
			return nil
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC3339 or YYYY-MM-DD [HH:MM])")
	cmd.Flags().StringVar(&end, "end", "", "end time")
	cmd.Flags().StringVar(&priority, "priority", models.PriorityMedium, "low, medium or high")
	cmd.Flags().BoolVar(&important, "important", false, "mark as important")
	cmd.Flags().StringVar(&reminder, "reminder", "", "reminder type (at_time, before_5min, ...)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func buildUpdateCommand() *cobra.Command {
	var (
		title     string
		start     string
		priority  string
		important bool
		reminder  string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("start") {
				startAt, err := parseTime(start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				patch.Start = &startAt
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("important") {
				patch.IsImportant = &important
			}
			if cmd.Flags().Changed("reminder") {
				patch.ReminderType = &reminder
			}

			return run(func(ctx context.Context, a *app) error {
				if err := a.store.Refresh(ctx); err != nil {
					return err
				}
				task, err := a.store.Update(ctx, args[0], patch)
				if err != nil {
					return err
				}
				fmt.Printf("updated %s  %s\n", task.ID, task.Title)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&start, "start", "", "new start time")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().BoolVar(&important, "important", false, "important flag")
	cmd.Flags().StringVar(&reminder, "reminder", "", "reminder type")
	return cmd
}

func buildDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app) error {
				if err := a.store.Refresh(ctx); err != nil {
					return err
				}
				if err := a.store.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

func buildClearCommand() *cobra.Command {
	var scope, date string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every task in a day, week or month",
		RunE: run(func(ctx context.Context, a *app) error {
			at := time.Now()
			if date != "" {
				var err error
				at, err = parseTime(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			if err := a.store.Refresh(ctx); err != nil {
				return err
			}

			var deleted []models.Task
			var err error
			switch scope {
			case "day":
				deleted, err = a.store.DeleteDay(ctx, at)
			case "week":
				deleted, err = a.store.DeleteWeek(ctx, at)
			case "month":
				deleted, err = a.store.DeleteMonth(ctx, at)
			default:
				return fmt.Errorf("unknown scope %q (want day, week or month)", scope)
			}
			fmt.Printf("deleted %d task(s)\n", len(deleted))
			return err
		}),
	}
	cmd.Flags().StringVar(&scope, "scope", "day", "day, week or month")
	cmd.Flags().StringVar(&date, "date", "", "reference date (default today)")
	return cmd
}

func buildParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <text...>",
		Short: "Turn free text into tasks via the async parser",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return run(func(ctx context.Context, a *app) error {
				tasks, err := a.store.ParseTasks(ctx, text)
				if err != nil {
					return err
				}
				fmt.Printf("parsed %d task(s)\n", len(tasks))
				printTasks(tasks)
				return nil
			})(cmd, args)
		},
	}
}

func buildPlanCommand() *cobra.Command {
	var confirm int
	cmd := &cobra.Command{
		Use:   "plan <description>",
		Short: "Analyze a work description and optionally book a slot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := strings.Join(args, " ")
			return run(func(ctx context.Context, a *app) error {
				analysis, err := a.store.AnalyzeSchedule(ctx, description)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%.1fh)\n", analysis.WorkInfo.Title, analysis.WorkInfo.DurationHours)
				for i, slot := range analysis.Recommendations {
					fmt.Printf("  [%d] %s - %s  %s\n", i+1,
						slot.Start.Local().Format("Mon 15:04"),
						slot.End.Local().Format("15:04"),
						slot.Reason)
				}

				if confirm == 0 {
					return nil
				}
				if confirm < 1 || confirm > len(analysis.Recommendations) {
					return fmt.Errorf("--confirm %d out of range", confirm)
				}
				task, err := a.store.ConfirmSchedule(ctx, analysis.WorkInfo, analysis.Recommendations[confirm-1])
				if err != nil {
					return err
				}
				fmt.Printf("booked %s  %s\n", task.ID, task.Title)
				return nil
			})(cmd, args)
		},
	}
	cmd.Flags().IntVar(&confirm, "confirm", 0, "book recommendation N after analyzing")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show client configuration and dispatch state",
		RunE: run(func(ctx context.Context, a *app) error {
			st := a.ctrl.GetStatus()
			fmt.Printf("api:            %s\n", a.cfg.APIBaseURL)
			fmt.Printf("authenticated:  %t\n", a.session.Authenticated())
			fmt.Printf("cache backend:  %s (ttl %s)\n", a.cfg.CacheBackend, a.cfg.CacheTTL)
			fmt.Printf("concurrency:    %d in flight, %d queued, max %d\n", st.InFlight, st.Queued, st.Max)
			fmt.Printf("retry:          %d attempts, %s delay\n", a.cfg.RetryMax, a.cfg.RetryBaseDelay)
			fmt.Printf("polling:        every %s, up to %d attempts\n", a.cfg.PollInterval, a.cfg.PollMaxAttempts)
			return nil
		}),
	}
}

func printTasks(tasks []models.Task) {
	for _, t := range tasks {
		flags := t.Priority
		if t.IsImportant {
			flags += ", important"
		}
		if t.IsRecurring {
			flags += ", recurring"
		}
		fmt.Printf("%-36s  %-16s  %s  (%s)\n",
			t.ID, t.Start.Local().Format("2006-01-02 15:04"), t.Title, flags)
	}
}

// parseTime accepts the formats people actually type.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized time format")
}
