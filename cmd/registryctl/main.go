package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/client"
	"github.com/federated-storage/registry/internal/config"
	"github.com/federated-storage/registry/internal/ledger"
	"github.com/federated-storage/registry/internal/services"
	"github.com/federated-storage/registry/internal/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "registryctl",
		Short: "File registry operator tool",
		Long:  `Operator tool for the file registry: token ledgers, the content store and the event journal.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "config file")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(contentCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(rewardsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			treasury, _ := cmd.Flags().GetString("treasury")
			minter, _ := cmd.Flags().GetString("minter")
			force, _ := cmd.Flags().GetBool("force")

			if _, err := os.Stat(cfgFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
			}

			cfg := config.DefaultConfig()
			cfg.Registry.Owner = owner
			cfg.Ledger.Treasury = treasury
			cfg.Ledger.Minter = minter

			for _, dir := range []string{cfg.Ledger.DataDir, cfg.Content.BlobDir} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create %s: %w", dir, err)
				}
			}

			if err := cfg.Save(cfgFile); err != nil {
				return err
			}

			fmt.Printf("Config saved to: %s\n", cfgFile)
			fmt.Printf("Token ledger: %s\n", filepath.Join(cfg.Ledger.DataDir, cfg.Ledger.Token+".db"))
			fmt.Println("Set JWT_SECRET before starting the API.")
			return nil
		},
	}

	cmd.Flags().String("owner", "", "registry owner identity (required)")
	cmd.Flags().String("treasury", "", "identity that pays rewards and receives tip allowances (required)")
	cmd.Flags().String("minter", "", "identity allowed to mint tokens")
	cmd.Flags().Bool("force", false, "overwrite an existing config")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("treasury")

	return cmd
}

// withLedger opens the ledger named by --token (default: the configured token)
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Ledger.Token
	}

	dir := ledger.NewDirectory(cfg.Ledger.Driver, cfg.Ledger.DataDir, cfg.Ledger.Minter, cfg.Ledger.Treasury, zap.NewNop())
	defer dir.Close()

	l, err := dir.Open(token)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, l)
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and fund token ledgers",
	}
	cmd.PersistentFlags().String("token", "", "token reference (default from config)")

	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint tokens as the configured minter",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			amount, _ := cmd.Flags().GetInt64("amount")
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				if err := l.Mint(ctx, l.Minter(), to, amount); err != nil {
					return err
				}
				fmt.Printf("Minted %d to %s\n", amount, to)
				return nil
			})
		},
	}
	mintCmd.Flags().String("to", "", "recipient")
	mintCmd.Flags().Int64("amount", 0, "amount")
	mintCmd.MarkFlagRequired("to")
	mintCmd.MarkFlagRequired("amount")

	approveCmd := &cobra.Command{
		Use:   "approve",
		Short: "Let a spender move an owner's tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			spender, _ := cmd.Flags().GetString("spender")
			amount, _ := cmd.Flags().GetInt64("amount")
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				if err := l.Approve(ctx, owner, spender, amount); err != nil {
					return err
				}
				fmt.Printf("%s may now spend %d of %s\n", spender, amount, owner)
				return nil
			})
		},
	}
	approveCmd.Flags().String("owner", "", "token holder")
	approveCmd.Flags().String("spender", "", "spender (usually the treasury)")
	approveCmd.Flags().Int64("amount", 0, "allowance")
	approveCmd.MarkFlagRequired("owner")
	approveCmd.MarkFlagRequired("spender")

	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move tokens between identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			amount, _ := cmd.Flags().GetInt64("amount")
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				if err := l.Transfer(ctx, from, to, amount); err != nil {
					return err
				}
				fmt.Printf("Transferred %d from %s to %s\n", amount, from, to)
				return nil
			})
		},
	}
	transferCmd.Flags().String("from", "", "sender")
	transferCmd.Flags().String("to", "", "recipient")
	transferCmd.Flags().Int64("amount", 0, "amount")
	transferCmd.MarkFlagRequired("from")
	transferCmd.MarkFlagRequired("to")
	transferCmd.MarkFlagRequired("amount")

	balanceCmd := &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				balance, err := l.BalanceOf(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d\n", args[0], balance)
				return nil
			})
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history <account>",
		Short: "List an account's most recent ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				entries, err := l.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("No entries")
					return nil
				}
				fmt.Printf("%-6s %-12s %-44s %-44s %12s  %s\n", "ID", "KIND", "FROM", "TO", "AMOUNT", "TIME")
				for _, e := range entries {
					fmt.Printf("%-6d %-12s %-44s %-44s %12d  %s\n",
						e.ID, e.Kind, e.From, e.To, e.Amount, e.CreatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	historyCmd.Flags().Int("limit", 20, "maximum entries")

	cmd.AddCommand(mintCmd, approveCmd, transferCmd, balanceCmd, historyCmd)
	return cmd
}

func contentService(cfg *config.Config) *services.ContentService {
	return services.NewContentService(services.ContentOptions{
		Dir:       cfg.Content.BlobDir,
		MaxBytes:  cfg.Content.MaxUploadBytes,
		CacheSize: 1,
	})
}

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Store and read blobs in the local content store",
	}

	putCmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its content reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			ref, err := contentService(cfg).Put(context.Background(), data)
			if err != nil {
				return err
			}
			fmt.Println(ref)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <ref>",
		Short: "Write a stored blob to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := contentService(cfg).GetLocal(context.Background(), args[0])
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0644)
		},
	}
	getCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	cmd.AddCommand(putCmd, getCmd)
	return cmd
}

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the registry event journal",
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print journaled events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			after, _ := cmd.Flags().GetUint64("after")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			db, err := storage.New(ctx, cfg.Database.DatabaseURL())
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			events, err := services.NewJournal(db, 1, zap.NewNop()).Load(ctx, after)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	dumpCmd.Flags().Uint64("after", 0, "only events with a greater sequence number")

	cmd.AddCommand(dumpCmd)
	return cmd
}

func rewardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Credit and inspect uploader rewards through a running API",
	}
	cmd.PersistentFlags().String("api-url", "http://localhost:8080", "registry API base URL")

	accrueCmd := &cobra.Command{
		Use:   "accrue",
		Short: "Credit an uploader's pending reward using the service key",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL, _ := cmd.Flags().GetString("api-url")
			uploader, _ := cmd.Flags().GetString("uploader")
			amount, _ := cmd.Flags().GetInt64("amount")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.ServiceKey == "" {
				return fmt.Errorf("no service key configured (set SERVICE_KEY)")
			}

			pending, err := client.New(apiURL, client.WithServiceKey(cfg.Auth.ServiceKey)).
				Accrue(cmd.Context(), uploader, amount)
			if err != nil {
				return err
			}
			fmt.Printf("%s pending reward: %d\n", uploader, pending)
			return nil
		},
	}
	accrueCmd.Flags().String("uploader", "", "uploader identity")
	accrueCmd.Flags().Int64("amount", 0, "amount to credit")
	accrueCmd.MarkFlagRequired("uploader")
	accrueCmd.MarkFlagRequired("amount")

	pendingCmd := &cobra.Command{
		Use:   "pending <address>",
		Short: "Show an address's pending reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL, _ := cmd.Flags().GetString("api-url")
			pending, err := client.New(apiURL).Pending(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s pending reward: %d\n", args[0], pending)
			return nil
		},
	}

	cmd.AddCommand(accrueCmd, pendingCmd)
	return cmd
}
