package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/intake"
	"pressline/internal/migrate"
	"pressline/internal/repo"
	"pressline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Pressline CLI",
	Long: `Pressline schedules multi-stage print production jobs.
Core concepts:
- Workspace: your .pressline directory holding the database; plant settings live in pressline.yml.
- Jobs: work orders moving through a fixed chain of production stages (prepress -> plates -> press -> ...).
- Categories: workflow templates; assigning one instantiates the job's stage chain.
- Capacity: per-stage daily minutes, shift window, parallel lanes, setup time.
- Scheduler: plans stage windows and time slots forward from now, expedited jobs first.
- Reconciliation: the nightly pass that relocates unfinished past slots and cascades delays.
- Event log: diary of changes, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PRESSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var plantID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Writes a default pressline.yml, creates the database, and seeds stages and capacity profiles from it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(plantID)), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SeedFromConfig(ctx); err != nil {
					return err
				}
				v, err := migrate.Version(e.DB)
				if err != nil {
					return err
				}
				fmt.Printf("workspace ready: %s (schema v%d)\n", db.Path(workspace), v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plantID, "plant", "plant-1", "plant identifier")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage jobs"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobExpediteCmd())
	job.AddCommand(jobAssignCmd())
	job.AddCommand(jobStatusCmd())
	job.AddCommand(jobImportCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var workOrder, customer, dueDate, category string
	var expedited bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.CreateJob(ctx, engine.JobCreateOptions{
					WorkOrder: workOrder,
					Customer:  customer,
					DueDate:   dueDate,
					Category:  category,
					Expedited: expedited,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&workOrder, "work-order", "", "work order number")
	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "", "category (instantiates the workflow)")
	cmd.Flags().BoolVar(&expedited, "expedite", false, "flag as expedited")
	_ = cmd.MarkFlagRequired("work-order")
	return cmd
}

func jobListCmd() *cobra.Command {
	var status string
	var expedited bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f := repo.JobFilters{Status: status}
				if cmd.Flags().Changed("expedited") {
					f.Expedited = &expedited
				}
				items, err := r.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Work Order", "Customer", "Status", "Due", "Expedited"})
				for _, j := range items {
					due := ""
					if j.DueDate != nil {
						due = *j.DueDate
					}
					tw.AppendRow(table.Row{j.ID, j.WorkOrder, j.Customer, j.Status, due, j.Expedited})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().BoolVar(&expedited, "expedited", false, "filter by expedited flag")
	return cmd
}

func jobShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id|work-order>",
		Short: "Show a job with its workflow stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				j, err := resolveJob(ctx, r, args[0])
				if err != nil {
					return err
				}
				stages, err := r.ListJobStages(ctx, j.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"job": j, "stages": stages})
			})
		},
	}
	return cmd
}

func jobExpediteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expedite <job-id|work-order>",
		Short: "Mark a job expedited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := resolveJob(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				j, err = e.ExpediteJob(ctx, j.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	return cmd
}

func jobAssignCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "assign <job-id|work-order>",
		Short: "Assign a category and instantiate its workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := resolveJob(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				j, err = e.AssignCategory(ctx, j.ID, category, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category name")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func jobStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <job-id|work-order>",
		Short: "Set job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := resolveJob(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				j, err = e.SetJobStatus(ctx, j.ID, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (open, completed, cancelled)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

type importRow struct {
	WorkOrder string `json:"work_order"`
	Customer  string `json:"customer"`
	DueDate   string `json:"due_date"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	Expedited bool   `json:"expedited"`
}

func jobImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import jobs from a JSON file",
		Long:  "Reads an array of job rows and normalizes free-form status text from upstream systems.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var rows []importRow
			if err := json.Unmarshal(data, &rows); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				created, failed := 0, 0
				for _, row := range rows {
					j, err := e.CreateJob(ctx, engine.JobCreateOptions{
						WorkOrder: row.WorkOrder,
						Customer:  row.Customer,
						DueDate:   row.DueDate,
						Category:  row.Category,
						Expedited: row.Expedited,
						ActorID:   actor,
					})
					if err != nil {
						fmt.Fprintf(os.Stderr, "skip %s: %v\n", row.WorkOrder, err)
						failed++
						continue
					}
					if status := intake.NormalizeJobStatus(row.Status); status != domain.JobOpen {
						if _, err := e.SetJobStatus(ctx, j.ID, status, actor); err != nil {
							fmt.Fprintf(os.Stderr, "status %s: %v\n", row.WorkOrder, err)
						}
					}
					created++
				}
				fmt.Printf("imported %d, skipped %d\n", created, failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func stageCmd() *cobra.Command {
	stage := &cobra.Command{Use: "stage", Short: "Workflow stage transitions"}
	stage.AddCommand(stageTransitionCmd("start", "Start a stage", func(e engine.Engine) func(context.Context, string, string) (domain.WorkflowStage, error) {
		return e.StartStage
	}))
	stage.AddCommand(stageTransitionCmd("complete", "Complete a stage", func(e engine.Engine) func(context.Context, string, string) (domain.WorkflowStage, error) {
		return e.CompleteStage
	}))
	stage.AddCommand(stageTransitionCmd("skip", "Skip a stage", func(e engine.Engine) func(context.Context, string, string) (domain.WorkflowStage, error) {
		return e.SkipStage
	}))
	stage.AddCommand(stageQueuePosCmd())
	return stage
}

func stageTransitionCmd(verb, short string, pick func(engine.Engine) func(context.Context, string, string) (domain.WorkflowStage, error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <workflow-stage-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws, err := pick(e)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ws)
			})
		},
	}
}

func stageQueuePosCmd() *cobra.Command {
	var pos int
	var clear bool
	cmd := &cobra.Command{
		Use:   "queue-pos <workflow-stage-id>",
		Short: "Set or clear the manual queue position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var p *int
				if !clear {
					if !cmd.Flags().Changed("pos") {
						return fmt.Errorf("--pos or --clear required")
					}
					p = &pos
				}
				if err := e.SetQueuePosition(ctx, args[0], p, viper.GetString("actor-id")); err != nil {
					return err
				}
				ws, err := e.Repo.GetWorkflowStage(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ws)
			})
		},
	}
	cmd.Flags().IntVar(&pos, "pos", 0, "queue position (>= 1)")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the manual position")
	return cmd
}

func chainCmd() *cobra.Command {
	chainRoot := &cobra.Command{Use: "chain", Short: "Workflow chain views"}
	chainRoot.AddCommand(&cobra.Command{
		Use:   "show <job-id|work-order>",
		Short: "Resolved chain with progress and bottlenecks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := resolveJob(ctx, e.Repo, args[0])
				if err != nil {
					return err
				}
				c, err := e.ChainFor(ctx, j.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Order", "Stage", "Status", "Minutes", "Scheduled Start", "Scheduled End"})
				for _, ws := range c.Stages {
					start, end := "", ""
					if ws.ScheduledStart != nil {
						start = *ws.ScheduledStart
					}
					if ws.ScheduledEnd != nil {
						end = *ws.ScheduledEnd
					}
					tw.AppendRow(table.Row{ws.StageOrder, ws.StageID, ws.Status, ws.EstimatedMinutes, start, end})
				}
				tw.Render()
				fmt.Printf("completed %d/%d, remaining %d min (%.1f days)\n",
					c.CompletedCount, len(c.Stages), c.RemainingMinutes, c.RemainingDays)
				if len(c.Bottlenecks) > 0 {
					fmt.Println("bottlenecks:", strings.Join(c.Bottlenecks, ", "))
				}
				return nil
			})
		},
	})
	return chainRoot
}

func capacityCmd() *cobra.Command {
	capRoot := &cobra.Command{Use: "capacity", Short: "Capacity profiles"}
	capRoot.AddCommand(capacityListCmd())
	capRoot.AddCommand(capacitySetCmd())
	return capRoot
}

func capacityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List capacity profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCapacityProfiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Daily Min", "Shift", "Lanes", "Setup Min"})
				for _, p := range items {
					shift := fmt.Sprintf("%02d:%02d-%02d:%02d", p.StartHour, p.StartMinute, p.EndHour, p.EndMinute)
					tw.AppendRow(table.Row{p.StageID, p.DailyMinutes, shift, p.MaxParallelJobs, p.SetupMinutes})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func capacitySetCmd() *cobra.Command {
	var daily, lanes, setup int
	var start, end string
	cmd := &cobra.Command{
		Use:   "set <stage-id>",
		Short: "Set a stage capacity profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := domain.CapacityProfile{
				StageID:         args[0],
				DailyMinutes:    daily,
				MaxParallelJobs: lanes,
				SetupMinutes:    setup,
			}
			var err error
			if p.StartHour, p.StartMinute, err = config.ParseClock(start); err != nil {
				return err
			}
			if p.EndHour, p.EndMinute, err = config.ParseClock(end); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertCapacityProfile(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().IntVar(&daily, "daily-minutes", 510, "productive minutes per day")
	cmd.Flags().IntVar(&lanes, "lanes", 1, "max parallel jobs")
	cmd.Flags().IntVar(&setup, "setup-minutes", 10, "setup minutes per job")
	cmd.Flags().StringVar(&start, "start", "08:00", "shift start (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "17:30", "shift end (HH:MM)")
	return cmd
}

func scheduleCmd() *cobra.Command {
	sched := &cobra.Command{Use: "schedule", Short: "Run the planner"}
	sched.AddCommand(scheduleRunCmd())
	sched.AddCommand(schedulePlanCmd())
	sched.AddCommand(scheduleExportCmd())
	return sched
}

func applyOptions(commit, onlyIfUnset, proposed bool) engine.ApplyOptions {
	return engine.ApplyOptions{
		Commit:      commit,
		OnlyIfUnset: onlyIfUnset,
		AsProposed:  proposed,
		ActorID:     viper.GetString("actor-id"),
	}
}

func scheduleRunCmd() *cobra.Command {
	var commit, onlyIfUnset, proposed, force bool
	var jobs []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and apply the schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := applyOptions(commit, onlyIfUnset, proposed)
				var res engine.ScheduleRunResult
				var err error
				if len(jobs) > 0 {
					res, err = e.ScheduleJobs(ctx, jobs, force, opts)
				} else {
					res, err = e.RescheduleAll(ctx, opts)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", true, "persist the result (false = dry run)")
	cmd.Flags().BoolVar(&onlyIfUnset, "only-if-unset", true, "skip stages with a committed schedule")
	cmd.Flags().BoolVar(&proposed, "proposed", true, "write provisional fields instead of committed ones")
	cmd.Flags().BoolVar(&force, "force", false, "reschedule even stages with a committed schedule")
	cmd.Flags().StringArrayVar(&jobs, "job", nil, "limit to a job id or work order (repeatable)")
	return cmd
}

func schedulePlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Compute a plan without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.ExportSchedulerInput(ctx)
				if err != nil {
					return err
				}
				res, err := e.PlanSchedule(snap)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func scheduleExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the planner input snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.ExportSchedulerInput(ctx)
				if err != nil {
					return err
				}
				return printJSON(snap)
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Relocate unfinished past slots and cascade delays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.RunNightlyReconciliation(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				for _, line := range sum.OperationsLog {
					fmt.Println(line)
				}
				fmt.Printf("jobs affected %d, stages rescheduled %d\n",
					sum.SpilloverJobsProcessed, sum.TotalStageReschedules)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "filter by entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var reconcileEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
				if err != nil {
					return err
				}
				if reconcileEvery > 0 {
					go runReconcileLoop(ctx, e, reconcileEvery)
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Pressline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&reconcileEvery, "reconcile-every", 24*time.Hour, "reconciliation interval (0 disables)")
	return cmd
}

func runReconcileLoop(ctx context.Context, e engine.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunNightlyReconciliation(ctx, "scheduler-daemon"); err != nil {
				if errors.Is(err, engine.ErrReconcileRunning) {
					continue
				}
				e.Logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

func resolveJob(ctx context.Context, r repo.Repo, ref string) (domain.Job, error) {
	j, err := r.GetJob(ctx, ref)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, err
	}
	return r.GetJobByWorkOrder(ctx, ref)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e, err := engine.New(conn, cfg, newLogger())
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
