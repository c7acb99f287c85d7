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

	"intentbid/internal/config"
	"intentbid/internal/db"
	"intentbid/internal/domain"
	"intentbid/internal/engine"
	"intentbid/internal/migrate"
	"intentbid/internal/outbox"
	"intentbid/internal/repo"
	"intentbid/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ib",
	Short: "IntentBid CLI",
	Long: `IntentBid matches buyer requests for offers (RFOs) with vendor offers.
Buyers post an RFO with a budget, deadline and constraints; vendors submit
offers against it. Offers are scored against the RFO's constraints and
ranked by a weight profile, the buyer closes and awards, and vendors are
notified through signed webhooks drained from an event outbox.`,
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
	viper.SetEnvPrefix("INTENTBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(rfoCmd())
	rootCmd.AddCommand(offerCmd())
	rootCmd.AddCommand(vendorCmd())
	rootCmd.AddCommand(buyerCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func rfoCmd() *cobra.Command {
	rfo := &cobra.Command{
		Use:   "rfo",
		Short: "Manage RFOs",
		Long:  "RFOs are buyer requests for offers. They open, collect vendor offers, close, and are awarded to one offer (or reopened).",
	}
	rfo.AddCommand(rfoCreateCmd())
	rfo.AddCommand(rfoListCmd())
	rfo.AddCommand(rfoShowCmd())
	rfo.AddCommand(rfoCloseCmd())
	rfo.AddCommand(rfoAwardCmd())
	rfo.AddCommand(rfoReopenCmd())
	rfo.AddCommand(rfoScoringCmd())
	rfo.AddCommand(rfoRankCmd())
	rfo.AddCommand(rfoBestCmd())
	rfo.AddCommand(rfoAuditCmd())
	return rfo
}

func rfoCreateCmd() *cobra.Command {
	var r domain.RFO
	var buyerID int64
	var budget float64
	var deadline, quantity int
	var constraintsJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an RFO",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("buyer") {
				r.BuyerID = &buyerID
			}
			if cmd.Flags().Changed("budget") {
				r.BudgetMax = &budget
			}
			if cmd.Flags().Changed("deadline-days") {
				r.DeliveryDeadlineDays = &deadline
			}
			if cmd.Flags().Changed("quantity") {
				r.Quantity = &quantity
			}
			if constraintsJSON != "" {
				if err := json.Unmarshal([]byte(constraintsJSON), &r.Constraints); err != nil {
					return fmt.Errorf("invalid --constraints-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateRFO(ctx, r)
				if err != nil {
					return err
				}
				return printJSONOrIndent(created)
			})
		},
	}
	cmd.Flags().StringVar(&r.Title, "title", "", "title")
	cmd.Flags().StringVar(&r.Category, "category", "", "category (cpu, gpu, memory, ...)")
	cmd.Flags().Int64Var(&buyerID, "buyer", 0, "buyer id")
	cmd.Flags().Float64Var(&budget, "budget", 0, "maximum budget")
	cmd.Flags().IntVar(&deadline, "deadline-days", 0, "delivery deadline in days")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "requested quantity")
	cmd.Flags().StringVar(&r.ScoringProfile, "profile", "", "scoring profile (fastest, cheapest, balanced)")
	cmd.Flags().StringVar(&constraintsJSON, "constraints-json", "", "extra constraints as JSON")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func rfoListCmd() *cobra.Command {
	var status, category string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List RFOs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rfos, err := r.ListRFOs(ctx, status, category, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rfos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Status", "Budget", "Deadline"})
				for _, rfo := range rfos {
					budget := ""
					if rfo.BudgetMax != nil {
						budget = fmt.Sprintf("%.2f", *rfo.BudgetMax)
					}
					deadline := ""
					if rfo.DeliveryDeadlineDays != nil {
						deadline = fmt.Sprintf("%dd", *rfo.DeliveryDeadlineDays)
					}
					tw.AppendRow(table.Row{rfo.ID, rfo.Title, rfo.Category, rfo.Status, budget, deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (OPEN, CLOSED, AWARDED)")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func rfoShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an RFO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rfo, err := r.GetRFO(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rfo)
			})
		},
	}
	return cmd
}

func rfoCloseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an RFO to new offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rfo, err := e.CloseRFO(ctx, id, nil, reason)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rfo)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "close reason")
	return cmd
}

func rfoAwardCmd() *cobra.Command {
	var offerID int64
	var reason string
	cmd := &cobra.Command{
		Use:   "award <id>",
		Short: "Award a closed RFO to an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var offerPtr *int64
			if cmd.Flags().Changed("offer") {
				offerPtr = &offerID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rfo, err := e.AwardRFO(ctx, id, nil, offerPtr, reason)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rfo)
			})
		},
	}
	cmd.Flags().Int64Var(&offerID, "offer", 0, "winning offer id")
	cmd.Flags().StringVar(&reason, "reason", "", "award note")
	return cmd
}

func rfoReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed RFO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rfo, err := e.ReopenRFO(ctx, id, nil, "")
				if err != nil {
					return err
				}
				return printJSONOrIndent(rfo)
			})
		},
	}
	return cmd
}

func rfoScoringCmd() *cobra.Command {
	var profile, version, weightsJSON string
	cmd := &cobra.Command{
		Use:   "scoring <id>",
		Short: "Set the scoring profile, weights or version of an RFO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var profilePtr, versionPtr *string
			if cmd.Flags().Changed("profile") {
				profilePtr = &profile
			}
			if cmd.Flags().Changed("version") {
				versionPtr = &version
			}
			var weights map[string]any
			if weightsJSON != "" {
				if err := json.Unmarshal([]byte(weightsJSON), &weights); err != nil {
					return fmt.Errorf("invalid --weights-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rfo, err := e.UpdateScoringConfig(ctx, id, nil, profilePtr, weights, versionPtr)
				if err != nil {
					return err
				}
				return printJSONOrIndent(rfo)
			})
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "scoring profile (fastest, cheapest, balanced)")
	cmd.Flags().StringVar(&version, "version", "", "scoring version tag")
	cmd.Flags().StringVar(&weightsJSON, "weights-json", "", "explicit weights as JSON")
	return cmd
}

func rfoRankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank <id>",
		Short: "Rank the offers on an RFO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, ranked, err := e.RankOffers(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ranked)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Offer", "Vendor", "Score", "Price", "ETA", "Penalties"})
				for _, r := range ranked {
					price := r.Offer.PriceAmount
					if r.Offer.UnitPrice != nil {
						price = *r.Offer.UnitPrice
					}
					tw.AppendRow(table.Row{
						r.Offer.ID, r.Offer.VendorID,
						fmt.Sprintf("%.4f", r.Score),
						fmt.Sprintf("%.2f", price),
						r.Offer.DeliveryETADays,
						strings.Join(r.Explain.Penalties, ","),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rfoBestCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "best <id>",
		Short: "Show the top-ranked offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, best, err := e.BestOffers(ctx, id, topK)
				if err != nil {
					return err
				}
				return printJSONOrIndent(best)
			})
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 1, "number of offers to return")
	return cmd
}

func rfoAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Show the audit trail of an RFO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListAuditByEntity(ctx, "rfo", id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(entries)
			})
		},
	}
	return cmd
}

func offerCmd() *cobra.Command {
	offer := &cobra.Command{
		Use:   "offer",
		Short: "Manage offers",
	}
	offer.AddCommand(offerSubmitCmd())
	offer.AddCommand(offerListCmd())
	offer.AddCommand(offerShowCmd())
	offer.AddCommand(offerRevisionsCmd())
	return offer
}

func offerSubmitCmd() *cobra.Command {
	var o domain.Offer
	var noStock bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an offer on an open RFO",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Stock = !noStock
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.SubmitOffer(ctx, o)
				if err != nil {
					return err
				}
				return printJSONOrIndent(created)
			})
		},
	}
	cmd.Flags().Int64Var(&o.RFOID, "rfo", 0, "rfo id")
	cmd.Flags().Int64Var(&o.VendorID, "vendor", 0, "vendor id")
	cmd.Flags().Float64Var(&o.PriceAmount, "price", 0, "total price")
	cmd.Flags().StringVar(&o.Currency, "currency", "", "currency (default USD)")
	cmd.Flags().IntVar(&o.DeliveryETADays, "eta-days", 0, "delivery ETA in days")
	cmd.Flags().IntVar(&o.WarrantyMonths, "warranty-months", 0, "warranty in months")
	cmd.Flags().IntVar(&o.ReturnDays, "return-days", 0, "return window in days")
	cmd.Flags().BoolVar(&noStock, "no-stock", false, "mark the item out of stock")
	_ = cmd.MarkFlagRequired("rfo")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func offerListCmd() *cobra.Command {
	var rfoID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the offers on an RFO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				offers, err := r.ListOffersByRFO(ctx, rfoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(offers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Vendor", "Price", "ETA", "Warranty", "Status", "Version"})
				for _, o := range offers {
					tw.AppendRow(table.Row{o.ID, o.VendorID, fmt.Sprintf("%.2f", o.PriceAmount), o.DeliveryETADays, o.WarrantyMonths, o.Status, o.OfferVersion})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&rfoID, "rfo", 0, "rfo id")
	_ = cmd.MarkFlagRequired("rfo")
	return cmd
}

func offerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				o, err := r.GetOffer(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(o)
			})
		},
	}
	return cmd
}

func offerRevisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revisions <id>",
		Short: "Show the revision history of an offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				revs, err := r.ListOfferRevisions(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(revs)
			})
		},
	}
	return cmd
}

func vendorCmd() *cobra.Command {
	vendor := &cobra.Command{
		Use:   "vendor",
		Short: "Manage vendors",
	}
	vendor.AddCommand(vendorRegisterCmd())
	vendor.AddCommand(vendorListCmd())
	vendor.AddCommand(vendorVerifyCmd())
	vendor.AddCommand(vendorUsageCmd())
	return vendor
}

func vendorRegisterCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a vendor and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, secret, err := e.RegisterVendor(ctx, name)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"vendor": v, "api_key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "vendor name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func vendorListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				vendors, err := r.ListVendors(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vendors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Verification", "Created"})
				for _, v := range vendors {
					tw.AppendRow(table.Row{v.ID, v.Name, v.VerificationStatus, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "verification status filter")
	return cmd
}

func vendorVerifyCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Decide a vendor verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.SetVendorVerification(ctx, id, status, notes)
				if err != nil {
					return err
				}
				return printJSONOrIndent(v)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.VerificationVerified, "verification status (UNVERIFIED, PENDING, VERIFIED)")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}

func vendorUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage <id>",
		Short: "Show a vendor's usage for the current month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.UsageSummary(ctx, domain.OwnerKindVendor, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(summary)
			})
		},
	}
	return cmd
}

func buyerCmd() *cobra.Command {
	buyer := &cobra.Command{
		Use:   "buyer",
		Short: "Manage buyers",
	}
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a buyer and print its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, secret, err := e.RegisterBuyer(ctx, name)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"buyer": b, "api_key": secret})
			})
		},
	}
	register.Flags().String("name", "", "buyer name")
	_ = register.MarkFlagRequired("name")
	buyer.AddCommand(register)
	return buyer
}

func webhookCmd() *cobra.Command {
	wh := &cobra.Command{
		Use:   "webhook",
		Short: "Manage vendor webhooks",
	}
	wh.AddCommand(webhookAddCmd())
	wh.AddCommand(webhookListCmd())
	return wh
}

func webhookAddCmd() *cobra.Command {
	var vendorID int64
	var url string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a webhook endpoint and print its signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				hook, err := e.RegisterWebhook(ctx, vendorID, url)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"webhook": hook, "secret": hook.Secret})
			})
		},
	}
	cmd.Flags().Int64Var(&vendorID, "vendor", 0, "vendor id")
	cmd.Flags().StringVar(&url, "url", "", "endpoint URL")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func webhookListCmd() *cobra.Command {
	var vendorID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a vendor's webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				hooks, err := r.ListWebhooksByVendor(ctx, vendorID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(hooks)
			})
		},
	}
	cmd.Flags().Int64Var(&vendorID, "vendor", 0, "vendor id")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func outboxCmd() *cobra.Command {
	ob := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and drain the event outbox",
	}
	ob.AddCommand(outboxListCmd())
	ob.AddCommand(outboxDispatchCmd())
	return ob
}

func outboxListCmd() *cobra.Command {
	var vendorID int64
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a vendor's outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListOutboxByVendor(ctx, vendorID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Attempts", "Next attempt"})
				for _, e := range events {
					next := ""
					if e.NextAttemptAt != nil {
						next = *e.NextAttemptAt
					}
					tw.AppendRow(table.Row{e.ID, e.EventType, e.Status, e.Attempts, next})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&vendorID, "vendor", 0, "vendor id")
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, delivered)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func outboxDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one delivery pass over due pending events",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d := outbox.NewDispatcher(r, nil, cfg.Outbox.MaxAttempts, time.Duration(cfg.Outbox.DispatchIntervalSecs)*time.Second)
				return d.Dispatch(ctx)
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Manage billing plans and subscriptions",
	}
	plan.AddCommand(planSetLimitCmd())
	plan.AddCommand(planSubscribeCmd())
	return plan
}

func planSetLimitCmd() *cobra.Command {
	var code string
	var maxOffers int
	cmd := &cobra.Command{
		Use:   "set-limit",
		Short: "Set the monthly offer cap for a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertPlanLimit(ctx, domain.PlanLimit{PlanCode: code, MaxOffersPerMonth: maxOffers}); err != nil {
					return err
				}
				limit, err := r.GetPlanLimit(ctx, code)
				if err != nil {
					return err
				}
				return printJSONOrIndent(limit)
			})
		},
	}
	cmd.Flags().StringVar(&code, "plan", "", "plan code")
	cmd.Flags().IntVar(&maxOffers, "max-offers-per-month", 0, "monthly offer cap")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("max-offers-per-month")
	return cmd
}

func planSubscribeCmd() *cobra.Command {
	var vendorID int64
	var code, status string
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Put a vendor on a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sub := domain.Subscription{VendorID: vendorID, PlanCode: code, Status: status}
				if err := r.UpsertSubscription(ctx, sub); err != nil {
					return err
				}
				stored, err := r.GetSubscription(ctx, vendorID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(stored)
			})
		},
	}
	cmd.Flags().Int64Var(&vendorID, "vendor", 0, "vendor id")
	cmd.Flags().StringVar(&code, "plan", "", "plan code")
	cmd.Flags().StringVar(&status, "status", "active", "subscription status")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is intentbid.yml in the workspace: server address, offer limits, outbox retry budget and the named scoring profiles.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrIndent(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)

			jwtSecret := cfg.Server.JWTSecret
			if env := os.Getenv("INTENTBID_JWT_SECRET"); env != "" {
				jwtSecret = env
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: server.AuthConfig{JWTSecret: jwtSecret}})
			if err != nil {
				return err
			}

			dispatchCtx, stopDispatch := context.WithCancel(cmd.Context())
			defer stopDispatch()
			d := outbox.NewDispatcher(e.Repo, nil, cfg.Outbox.MaxAttempts, time.Duration(cfg.Outbox.DispatchIntervalSecs)*time.Second)
			go d.Run(dispatchCtx)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving IntentBid API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

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
	e := engine.New(conn, cfg)
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

func printJSONOrIndent(v any) error {
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

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
