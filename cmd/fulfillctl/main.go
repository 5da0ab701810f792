package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ariefcatur/grocery-fulfillment/internal/config"
	"github.com/ariefcatur/grocery-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/grocery-fulfillment/internal/inventory"
	"github.com/ariefcatur/grocery-fulfillment/internal/ledger"
	"github.com/ariefcatur/grocery-fulfillment/internal/logging"
	"github.com/ariefcatur/grocery-fulfillment/internal/postgres"
)

func main() {
	app := &cli.App{
		Name:  "fulfillctl",
		Usage: "admin tasks for the fulfillment database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"POSTGRES_DSN"}, Usage: "postgres connection string"},
			&cli.StringFlag{Name: "actor", Value: "fulfillctl", Usage: "recorded as performedBy on movements"},
		},
		Commands: []*cli.Command{
			migrateCmd(),
			productsCmd(),
			binsCmd(),
			stockCmd(),
			reconcileCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dsn(c *cli.Context) (string, error) {
	if d := c.String("dsn"); d != "" {
		return d, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.PostgresDSN, nil
}

// withStocking opens a pool and hands a Stocking over the postgres stores to fn.
func withStocking(c *cli.Context, fn func(ctx context.Context, s *fulfillment.Stocking) error) error {
	d, err := dsn(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	db, err := postgres.Connect(ctx, d, 2)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := logging.New(logging.Config{Level: "warn", ServiceName: "fulfillctl", Output: os.Stderr})
	inv := inventory.NewService(&postgres.ProductStore{DB: db}, logger)
	led := ledger.NewService(&postgres.BinStore{DB: db}, logger)
	return fn(ctx, fulfillment.NewStocking(inv, led, nil, logger))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply or roll back schema migrations",
		Subcommands: []*cli.Command{
			{
				Name: "up",
				Action: func(c *cli.Context) error {
					d, err := dsn(c)
					if err != nil {
						return err
					}
					return postgres.Migrate(d, true)
				},
			},
			{
				Name: "down",
				Action: func(c *cli.Context) error {
					d, err := dsn(c)
					if err != nil {
						return err
					}
					return postgres.Migrate(d, false)
				},
			},
			{
				Name: "version",
				Action: func(c *cli.Context) error {
					d, err := dsn(c)
					if err != nil {
						return err
					}
					v, dirty, err := postgres.MigrationVersion(d)
					if err != nil {
						return err
					}
					fmt.Printf("version=%d dirty=%t\n", v, dirty)
					return nil
				},
			},
		},
	}
}

func productsCmd() *cli.Command {
	return &cli.Command{
		Name:  "products",
		Usage: "product catalogue",
		Subcommands: []*cli.Command{
			{
				Name: "create",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id"},
					&cli.StringFlag{Name: "sku", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.IntFlag{Name: "price", Usage: "selling price in cents", Required: true},
					&cli.IntFlag{Name: "mrp", Usage: "list price in cents"},
					&cli.IntFlag{Name: "min-stock", Value: 10},
				},
				Action: func(c *cli.Context) error {
					return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
						p, err := s.CreateProduct(ctx, fulfillment.NewProduct{
							ID:            c.String("id"),
							SKU:           c.String("sku"),
							Name:          c.String("name"),
							PriceCents:    c.Int("price"),
							MRPCents:      c.Int("mrp"),
							MinStockLevel: c.Int("min-stock"),
						})
						if err != nil {
							return err
						}
						return printJSON(p)
					})
				},
			},
		},
	}
}

func binsCmd() *cli.Command {
	return &cli.Command{
		Name:  "bins",
		Usage: "bin provisioning",
		Subcommands: []*cli.Command{
			{
				Name: "create",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "code", Required: true},
					&cli.IntFlag{Name: "max", Required: true, Usage: "capacity in units"},
					&cli.StringFlag{Name: "zone"},
					&cli.StringFlag{Name: "aisle"},
					&cli.StringFlag{Name: "shelf"},
					&cli.StringFlag{Name: "level"},
				},
				Action: func(c *cli.Context) error {
					return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
						b, err := s.CreateBin(ctx, ledger.NewBin{
							BinCode: c.String("code"),
							Location: ledger.Location{
								Zone: c.String("zone"), Aisle: c.String("aisle"),
								Shelf: c.String("shelf"), Level: c.String("level"),
							},
							MaxItems: c.Int("max"),
						})
						if err != nil {
							return err
						}
						return printJSON(b)
					})
				},
			},
			{
				Name:      "show",
				ArgsUsage: "<bin-code>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("bin code required", 2)
					}
					return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
						b, err := s.Ledger.Get(ctx, c.Args().First())
						if err != nil {
							return err
						}
						return printJSON(b)
					})
				},
			},
			binToggle("close", "stop put-away into a bin", false),
			binToggle("open", "accept put-away into a bin again", true),
		},
	}
}

func binToggle(name, usage string, active bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<bin-code>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("bin code required", 2)
			}
			return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
				b, err := s.SetBinActive(ctx, c.Args().First(), active)
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
}

func stockCmd() *cli.Command {
	return &cli.Command{
		Name:  "stock",
		Usage: "stock receipts and write-offs",
		Subcommands: []*cli.Command{
			{
				Name: "receive",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bin", Required: true},
					&cli.StringFlag{Name: "product", Required: true},
					&cli.IntFlag{Name: "qty", Required: true},
					&cli.StringFlag{Name: "batch"},
					&cli.TimestampFlag{Name: "expiry", Layout: "2006-01-02"},
				},
				Action: func(c *cli.Context) error {
					return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
						res, err := s.Receive(ctx, fulfillment.ReceiveRequest{
							BinCode:   c.String("bin"),
							ProductID: c.String("product"),
							Quantity:  c.Int("qty"),
							Batch:     c.String("batch"),
							Expiry:    c.Timestamp("expiry"),
							Actor:     c.String("actor"),
						})
						if err != nil {
							return err
						}
						return printJSON(res)
					})
				},
			},
			{
				Name: "writeoff",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "bin", Required: true},
					&cli.StringFlag{Name: "product", Required: true},
					&cli.IntFlag{Name: "qty", Required: true},
					&cli.StringFlag{Name: "reason", Required: true},
				},
				Action: func(c *cli.Context) error {
					return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
						res, err := s.WriteOff(ctx, fulfillment.WriteOffRequest{
							BinCode:   c.String("bin"),
							ProductID: c.String("product"),
							Quantity:  c.Int("qty"),
							Actor:     c.String("actor"),
							Reason:    c.String("reason"),
						})
						if err != nil {
							return err
						}
						return printJSON(res)
					})
				},
			},
		},
	}
}

func reconcileCmd() *cli.Command {
	return &cli.Command{
		Name:      "reconcile",
		Usage:     "compare product counters with bin contents",
		ArgsUsage: "<product-id>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "correct", Usage: "rewrite drifted counters"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("at least one product id required", 2)
			}
			return withStocking(c, func(ctx context.Context, s *fulfillment.Stocking) error {
				drifted := 0
				for _, id := range c.Args().Slice() {
					rep, err := s.Reconcile(ctx, id, c.Bool("correct"))
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					if rep.Drift != 0 {
						drifted++
					}
					if err := printJSON(rep); err != nil {
						return err
					}
				}
				if drifted > 0 && !c.Bool("correct") {
					return cli.Exit(fmt.Sprintf("%d product(s) drifted", drifted), 3)
				}
				return nil
			})
		},
	}
}
