package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cyclone/internal/app"
	"cyclone/internal/config"
	"cyclone/internal/db"
	"cyclone/internal/domain"
	"cyclone/internal/engine"
	"cyclone/internal/packslip"
	"cyclone/internal/repo"
	"cyclone/internal/seed"
	"cyclone/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cyc",
	Short: "Cyclone shop floor CLI",
	Long: `Cyclone tracks work items through the fabrication floor: Saw -> Thread -> CNC -> QC -> Ship.
Every action is recorded to an append-only audit trail. Items can be held at any
station, failed at QC, or sent back to Saw for rework. Orders ship when every
item has cleared the floor.`,
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
	viper.SetEnvPrefix("CYCLONE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "operator identifier")
	rootCmd.PersistentFlags().StringP("station", "s", "", "station the operator is working at")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("station", rootCmd.PersistentFlags().Lookup("station"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(qcCmd())
	rootCmd.AddCommand(shipCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(holdsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// errRejected signals a business-rule rejection: the engine declined the
// transition and state is unchanged.
var errRejected = errors.New("not applied; state unchanged")

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Creates the .cyclone directory, the database schema, and a default cyclone.yml when one is missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.OpenWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Printf("Workspace ready: %s\n", db.Path(workspace))
			fmt.Printf("Floor: %s (%d users on roster)\n", cfg.Floor.Name, len(cfg.Users))
			return nil
		},
	}
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items flow Saw -> Thread -> CNC -> QC -> Ship. Start and complete them at the station you are standing at; hold, release, and rework from anywhere.",
	}
	item.AddCommand(itemIntakeCmd())
	item.AddCommand(itemStartCmd())
	item.AddCommand(itemCompleteCmd())
	item.AddCommand(itemHoldCmd())
	item.AddCommand(itemReleaseCmd())
	item.AddCommand(itemReworkCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemListCmd())
	return item
}

func itemIntakeCmd() *cobra.Command {
	var opts engine.IntakeOptions
	var priority string
	cmd := &cobra.Command{
		Use:   "intake <item-id>",
		Short: "Register a new work item at Saw",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if priority != "" {
					p, ok := domain.ParsePriority(priority)
					if !ok {
						return fmt.Errorf("unknown priority %q", priority)
					}
					opts.Priority = p
				}
				it, ok, err := e.AddNewItem(ctx, args[0], cliActor(), opts)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("intake %s: %w", args[0], errRejected)
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrderID, "order", "", "order id (blank routes to General Stock)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().StringVar(&opts.Description, "desc", "", "item description")
	cmd.Flags().IntVar(&opts.Quantity, "qty", 0, "quantity (default 1)")
	cmd.Flags().StringVar(&priority, "priority", "", "Low|Normal|High|Urgent")
	return cmd
}

func stationActionCmd(use, short string,
	fn func(e engine.Engine, ctx context.Context, itemID string, actor engine.Actor, station domain.WorkflowStep) (bool, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				station, err := cliStation()
				if err != nil {
					return err
				}
				ok, err := fn(e, ctx, args[0], cliActor(), station)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s %s: %w", use, args[0], errRejected)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
}

func itemStartCmd() *cobra.Command {
	return stationActionCmd("start", "Start work on an item at your station",
		func(e engine.Engine, ctx context.Context, itemID string, actor engine.Actor, station domain.WorkflowStep) (bool, error) {
			return e.StartStep(ctx, itemID, actor, station)
		})
}

func itemCompleteCmd() *cobra.Command {
	return stationActionCmd("complete", "Complete the current step and advance the item",
		func(e engine.Engine, ctx context.Context, itemID string, actor engine.Actor, station domain.WorkflowStep) (bool, error) {
			return e.CompleteStep(ctx, itemID, actor, station)
		})
}

func itemHoldCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "hold <item-id>",
		Short: "Place an item on hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, ok := domain.ParseHoldReason(reason)
				if !ok {
					return fmt.Errorf("unknown hold reason %q (one of: %s)", reason, strings.Join(holdReasonNames(), ", "))
				}
				applied, err := e.PlaceOnHold(ctx, args[0], r, cliActor())
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("hold %s: %w", args[0], errRejected)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "hold reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func itemReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <item-id>",
		Short: "Release an item from hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				applied, err := e.ReleaseHold(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("release %s: %w", args[0], errRejected)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
}

func itemReworkCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "rework <item-id>",
		Short: "Send an item back to Saw for rework",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				applied, err := e.SendToRework(ctx, args[0], cliActor(), notes)
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("rework %s: %w", args[0], errRejected)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "rework notes")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show a work item with its audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				it, err := r.GetItemWithHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func itemListCmd() *cobra.Command {
	var step, status, onHold, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f, err := buildFilter(step, status, onHold, search)
				if err != nil {
					return err
				}
				items, err := r.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderItemTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "step filter (Saw|Thread|CNC|QC|Ship)")
	cmd.Flags().StringVar(&status, "status", "", "status filter (Pending|In Progress|Completed)")
	cmd.Flags().StringVar(&onHold, "on-hold", "", "hold filter (true|false)")
	cmd.Flags().StringVar(&search, "search", "", "match against id, name, or order")
	return cmd
}

func qcCmd() *cobra.Command {
	qc := &cobra.Command{
		Use:   "qc",
		Short: "QC inspection",
		Long:  "Pass sends the item to Ship; fail places it on hold at QC with the given reason.",
	}
	qc.AddCommand(qcPassCmd())
	qc.AddCommand(qcFailCmd())
	return qc
}

func qcPassCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pass <item-id>",
		Short: "Pass QC inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				applied, err := e.PassQC(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("qc pass %s: %w", args[0], errRejected)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
}

func qcFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <item-id>",
		Short: "Fail QC inspection and hold the item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, ok := domain.ParseHoldReason(reason)
				if !ok {
					return fmt.Errorf("unknown hold reason %q (one of: %s)", reason, strings.Join(holdReasonNames(), ", "))
				}
				applied, err := e.FailQC(ctx, args[0], r, cliActor())
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("qc fail %s: %w", args[0], errRejected)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "hold reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func shipCmd() *cobra.Command {
	var slipPath string
	cmd := &cobra.Command{
		Use:   "ship <item-id>",
		Short: "Ship an item",
		Long:  "Ships an item that has cleared QC. Use --slip to write a packing slip HTML file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one item id")
			}
			station, err := cliStation()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				if check := e.CanShipItem(it); !check.CanShip {
					return fmt.Errorf("ship %s: %s", args[0], check.Reason)
				}
				applied, err := e.ShipItem(ctx, args[0], cliActor(), station)
				if err != nil {
					return err
				}
				if !applied {
					return fmt.Errorf("ship %s: %w", args[0], errRejected)
				}
				if slipPath != "" {
					if err := writePackingSlip(ctx, e, args[0], slipPath); err != nil {
						return err
					}
					fmt.Printf("Packing slip written to %s\n", slipPath)
				}
				return showItem(ctx, e.Repo, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&slipPath, "slip", "", "write packing slip HTML to this path")
	return cmd
}

func writePackingSlip(ctx context.Context, e engine.Engine, itemID, path string) error {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	order, err := e.Repo.GetOrder(ctx, it.OrderID)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return packslip.Render(f, packslip.Input{
		Item:      it,
		Order:     order,
		PackedBy:  e.Config.UserName(viper.GetString("actor-id")),
		FloorName: e.Config.Floor.Name,
		PrintedAt: e.Clock(),
	})
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{Use: "order", Short: "Manage orders"}
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderReadyCmd())
	return order
}

func orderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orders, err := r.ListOrders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				renderOrderTable(orders)
				return nil
			})
		},
	}
}

func orderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOrderWithItems(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(o)
				}
				fmt.Printf("Order: %s (%s) for %s\n", o.OrderNumber, o.ID, o.CustomerName)
				fmt.Printf("Due: %s  Ready to ship: %v\n", o.DueDate.Format("2006-01-02"), o.ReadyToShip())
				renderItemTable(o.Items)
				return nil
			})
		},
	}
}

func orderReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Orders whose every item is at Ship and off hold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orders, err := r.ReadyToShipOrders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				renderOrderTable(orders)
				return nil
			})
		},
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Items queued at your station",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				station, err := cliStation()
				if err != nil {
					return err
				}
				items, err := r.ListItems(ctx, domain.WorkItemFilter{Step: &station})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				fmt.Printf("Station %s: %d item(s)\n", station, len(items))
				renderItemTable(items)
				return nil
			})
		},
	}
	return cmd
}

func holdsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "holds",
		Short: "Items on hold with escalation class",
		Long:  "Holds older than the configured aging threshold are flagged for escalation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				held, err := e.HeldItems(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(held)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Step", "Reason", "Held For", "Class"})
				for _, h := range held {
					tw.AppendRow(table.Row{h.Item.ID, h.Item.Name, h.Item.CurrentStep, h.Item.HoldReason, h.HoldAge.Round(time.Minute), h.Class})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log <item-id>",
		Short: "Audit history for an item, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetItem(ctx, args[0]); err != nil {
					return err
				}
				entries, err := r.AuditHistory(ctx, args[0])
				if err != nil {
					return err
				}
				for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
					entries[i], entries[j] = entries[j], entries[i]
				}
				if n > 0 && len(entries) > n {
					entries = entries[:n]
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Action", "Step", "Actor", "Station", "Notes"})
				for _, en := range entries {
					tw.AppendRow(table.Row{en.Timestamp.Format(time.RFC3339), en.Action, en.Step, en.ActorName, en.Station, en.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "limit to the n most recent entries")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Floor dashboard",
		Long:  "The scoreboard for the floor: item counts per station, holds, and completions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Repo.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Floor: %s\n", e.Config.Floor.Name)
				fmt.Printf("Items: %d total, %d in progress, %d on hold, %d completed\n",
					stats.TotalItems, stats.ByStatus[domain.StatusInProgress], stats.OnHoldCount, stats.ByStatus[domain.StatusCompleted])
				fmt.Println("By station:")
				for _, step := range domain.Steps {
					fmt.Printf("  %s: %d\n", step, stats.ByStep[step])
				}
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var filePath string
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo floor dataset",
		Long:  "Loads the sample orders and in-flight items into an empty workspace. Refuses to seed a non-empty database unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.OpenWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			ctx := cmd.Context()
			if !force {
				empty, err := seed.IsEmpty(ctx, repo.Repo{DB: conn})
				if err != nil {
					return err
				}
				if !empty {
					return fmt.Errorf("database already has orders; use --force to seed anyway")
				}
			}
			now := time.Now().UTC()
			if filePath != "" {
				data, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				if err := seed.Load(ctx, conn, cfg, data, now); err != nil {
					return err
				}
			} else if err := seed.LoadDefault(ctx, conn, cfg, now); err != nil {
				return err
			}
			fmt.Println("Seed data loaded.")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to a YAML fixture (defaults to the built-in dataset)")
	cmd.Flags().BoolVar(&force, "force", false, "seed even when the database is not empty")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current operator and their stations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			actorID := viper.GetString("actor-id")
			user, ok := cfg.UserByID(actorID)
			if !ok {
				fmt.Printf("Actor: %s (not on roster)\n", actorID)
				return nil
			}
			out := map[string]any{
				"actor_id":   user.ID,
				"name":       user.Name,
				"role":       user.Role,
				"department": user.Department,
				"stations":   allowedStations(cfg, user.Role),
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("Actor: %s (%s)\n", user.Name, user.ID)
			fmt.Printf("Role: %s  Department: %s\n", user.Role, user.Department)
			fmt.Printf("Stations: %s\n", strings.Join(allowedStations(cfg, user.Role), ", "))
			return nil
		},
	}
}

func allowedStations(cfg *config.Config, role string) []string {
	var out []string
	for _, step := range domain.Steps {
		if cfg.RoleAllows(role, step) {
			out = append(out, string(step))
		}
	}
	return out
}

func tokenCmd() *cobra.Command {
	var badge string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a floor token for a badge",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("CYCLONE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("CYCLONE_JWT_SECRET is required to sign tokens")
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			user, ok := cfg.UserByBadge(badge)
			if !ok {
				return fmt.Errorf("badge %q not on roster", badge)
			}
			token, err := server.IssueToken(secret, user, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token, "actor_id": user.ID, "name": user.Name, "role": user.Role})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&badge, "badge", "", "badge id")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("badge")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, cfg, err := app.OpenWorkspace(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CYCLONE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("CYCLONE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Cyclone API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id instead of a bearer token")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, cfg, err := app.OpenWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, _, err := app.OpenWorkspace(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func cliActor() engine.Actor {
	return engine.Actor{ID: viper.GetString("actor-id")}
}

func cliStation() (domain.WorkflowStep, error) {
	raw := viper.GetString("station")
	if raw == "" {
		return "", fmt.Errorf("--station is required (Saw|Thread|CNC|QC|Ship)")
	}
	station, ok := domain.ParseStep(raw)
	if !ok {
		return "", fmt.Errorf("unknown station %q", raw)
	}
	return station, nil
}

func buildFilter(step, status, onHold, search string) (domain.WorkItemFilter, error) {
	var f domain.WorkItemFilter
	if step != "" {
		s, ok := domain.ParseStep(step)
		if !ok {
			return f, fmt.Errorf("unknown step %q", step)
		}
		f.Step = &s
	}
	if status != "" {
		s, ok := domain.ParseStatus(status)
		if !ok {
			return f, fmt.Errorf("unknown status %q", status)
		}
		f.Status = &s
	}
	if onHold != "" {
		v := onHold == "true"
		f.OnHold = &v
	}
	f.Search = search
	return f, nil
}

func holdReasonNames() []string {
	out := make([]string, len(domain.HoldReasons))
	for i, r := range domain.HoldReasons {
		out[i] = string(r)
	}
	return out
}

func showItem(ctx context.Context, r repo.Repo, itemID string) error {
	it, err := r.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	return printJSONOrTable(it)
}

func renderItemTable(items []domain.WorkItem) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Order", "Step", "Status", "Hold", "Priority"})
	for _, it := range items {
		hold := ""
		if it.OnHold {
			hold = string(it.HoldReason)
		}
		tw.AppendRow(table.Row{it.ID, it.Name, it.OrderID, it.CurrentStep, it.Status, hold, it.Priority})
	}
	tw.Render()
}

func renderOrderTable(orders []domain.Order) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Order #", "Customer", "Due", "Items", "Ready"})
	for _, o := range orders {
		tw.AppendRow(table.Row{o.ID, o.OrderNumber, o.CustomerName, o.DueDate.Format("2006-01-02"), len(o.Items), o.ReadyToShip()})
	}
	tw.Render()
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
