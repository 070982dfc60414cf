package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bookline/internal/app"
	"bookline/internal/config"
	"bookline/internal/db"
	"bookline/internal/domain"
	"bookline/internal/migrate"
	"bookline/internal/repo"
	"bookline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bookline CLI",
	Long: `Bookline runs the booking and offer lifecycle of a services marketplace.
- Job requests: a buyer asks for work; admins answer with offers to sellers.
- Offers: a seller accepts one and a pending booking is created for the buyer.
- Bookings: pending -> accepted -> completed, or rejected / cancelled on the way.
- Availability: sellers publish slots; accepting a booking reserves its slot.
- Notifications: every transition lands in the inbox of the parties involved
  and is pushed over websocket and webhooks.
- Event log: every change, view with 'bl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := config.LoadEnv([]string{
			filepath.Join(workspace, ".env"),
			filepath.Join(workspace, ".env.local"),
		}); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOOKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("no-color", rootCmd.PersistentFlags().Lookup("no-color"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(offerCmd())
	rootCmd.AddCommand(bookingCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, notification relay and completion sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if cmd.Flags().Changed("addr") {
					a.Config.HTTP.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					a.Config.HTTP.BasePath = basePath
				}
				fmt.Printf("Serving Bookline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
					a.Config.HTTP.Addr, a.Config.HTTP.BasePath, a.Config.HTTP.BasePath)
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides http.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			current, latest, err := migrate.Status(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"db": db.Path(workspace), "version": current, "latest": latest})
			}
			fmt.Printf("%s at version %d/%d\n", db.Path(workspace), current, latest)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if c.Auth.JWTSecret != "" {
				c.Auth.JWTSecret = "********"
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default bookline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Job requests"}
	var buyer, status, category string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List job requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListJobRequests(ctx, repo.JobRequestFilters{
					BuyerID: buyer, Status: status, Category: category, Page: repo.Page{Limit: limit},
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Buyer", "Title", "Category", "Budget", "Status", "Created")
				for _, jr := range items {
					budget := ""
					if jr.Budget != nil {
						budget = jr.Budget.String()
					}
					tw.AppendRow(table.Row{jr.ID, jr.BuyerID, jr.Title, jr.Category, budget, statusText(jr.Status), jr.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&buyer, "buyer", "", "buyer id")
	list.Flags().StringVar(&status, "status", "", "status (open, assigned, fulfilled, rejected, cancelled)")
	list.Flags().StringVar(&category, "category", "", "category")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}

func offerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "offer", Short: "Offers"}
	var requestID, seller, status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListOffers(ctx, repo.OfferFilters{
					RequestID: requestID, SellerID: seller, Status: status, Page: repo.Page{Limit: limit},
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Request", "Seller", "Price", "Status", "Booking")
				for _, o := range items {
					price := ""
					if o.OfferedPrice != nil {
						price = o.OfferedPrice.String()
					}
					tw.AppendRow(table.Row{o.ID, o.RequestID, o.SellerID, price, statusText(o.Status), deref(o.BookingID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&requestID, "request", "", "job request id")
	list.Flags().StringVar(&seller, "seller", "", "seller id")
	list.Flags().StringVar(&status, "status", "", "status (pending, accepted, rejected)")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}

func bookingCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "booking", Short: "Bookings"}
	cmd.AddCommand(bookingListCmd())
	cmd.AddCommand(bookingSweepCmd())
	return cmd
}

func bookingListCmd() *cobra.Command {
	var participant, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListBookings(ctx, repo.BookingFilters{
					Participant: participant, Status: status, Page: repo.Page{Limit: limit},
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Buyer", "Seller", "Price", "Status", "Start", "End")
				for _, b := range items {
					tw.AppendRow(table.Row{b.ID, b.BuyerID, b.SellerID, b.Price.String(), statusText(b.Status), deref(b.ScheduledStart), deref(b.ScheduledEnd)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&participant, "actor", "", "buyer or seller id")
	cmd.Flags().StringVar(&status, "status", "", "status (pending, accepted, rejected, completed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func bookingSweepCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete accepted bookings whose scheduled end has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.CompleteDueBookings(ctx, batch)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("due %d, completed %s, skipped %d, failed %s\n",
					res.Due, color.GreenString("%d", len(res.Completed)), res.Skipped, color.RedString("%d", res.Failed))
				for _, id := range res.Completed {
					fmt.Println("  ", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "maximum bookings per sweep")
	return cmd
}

func slotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "slot", Short: "Availability slots"}
	var seller, after string
	var free bool
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List availability slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListSlots(ctx, repo.SlotFilters{SellerID: seller, OnlyFree: free, StartAfter: after, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Seller", "Start", "End", "Booked", "Booking")
				for _, s := range items {
					booked := color.GreenString("free")
					if s.IsBooked {
						booked = color.YellowString("booked")
					}
					tw.AppendRow(table.Row{s.ID, s.SellerID, s.StartTime, s.EndTime, booked, deref(s.BookingID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&seller, "seller", "", "seller id")
	list.Flags().StringVar(&after, "after", "", "only slots starting after this RFC3339 time")
	list.Flags().BoolVar(&free, "free", false, "only free slots")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notify", Short: "Notifications"}
	var recipient string
	var unread bool
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest notifications of an inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recipient == "" {
				return fmt.Errorf("--recipient required (an actor id or %q)", domain.AdminInbox)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListNotifications(ctx, repo.NotificationFilters{
					RecipientIDs: []string{recipient}, UnreadOnly: unread, Limit: n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Type", "Entity", "Change", "Read", "Delivery", "Created")
				for _, item := range items {
					change := item.NewStatus
					if item.OldStatus != "" {
						change = item.OldStatus + " -> " + item.NewStatus
					}
					tw.AppendRow(table.Row{item.ID, item.Type, item.EntityKind + "/" + item.EntityID, change,
						item.ReadAt != nil, deliveryText(item), item.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().StringVar(&recipient, "recipient", "", "inbox to read")
	tail.Flags().BoolVar(&unread, "unread", false, "only unread")
	tail.Flags().IntVar(&n, "n", 20, "number of notifications")
	cmd.AddCommand(tail)
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every transition appends an event in the same transaction as the change itself.",
	}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	log.AddCommand(tail)
	return log
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var actor, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				secret := "bl_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": actor, "role": role, "key": secret})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, color.New(color.Bold).Sprint(secret))
				fmt.Println(color.YellowString("store the key now; only its hash is kept"))
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&role, "role", "", "role (buyer, seller, admin)")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("actor")
	_ = create.MarkFlagRequired("role")

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Actor", "Role", "Name", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "actor id")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	var actor, role string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign a JWT with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			token, err := server.SignToken(cfg.Auth.JWTSecret, actor, role, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringVar(&actor, "actor", "", "actor id (sub claim)")
	mint.Flags().StringVar(&role, "role", "", "role (buyer, seller, admin)")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = mint.MarkFlagRequired("actor")
	_ = mint.MarkFlagRequired("role")
	cmd.AddCommand(mint)
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if viper.GetBool("no-color") {
		color.NoColor = true
	}
	a, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable(headers ...string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	tw.AppendHeader(row)
	return tw
}

func statusText(status string) string {
	switch status {
	case domain.JobRequestOpen, domain.BookingPending:
		return color.CyanString(status)
	case domain.BookingAccepted, domain.JobRequestAssigned:
		return color.BlueString(status)
	case domain.BookingCompleted, domain.JobRequestFulfilled:
		return color.GreenString(status)
	case domain.BookingRejected, domain.BookingCancelled:
		return color.RedString(status)
	default:
		return status
	}
}

func deliveryText(n domain.Notification) string {
	switch {
	case n.DeliveredAt != nil:
		return color.GreenString("delivered")
	case n.DeadAt != nil:
		return color.RedString("dead")
	case n.Attempts > 0:
		return color.YellowString("retry %d", n.Attempts)
	default:
		return "queued"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
