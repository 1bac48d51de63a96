package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"skladbot/internal/bot"
	"skladbot/internal/config"
	"skladbot/internal/moysklad"
	"skladbot/internal/ocr"
	"skladbot/internal/parse"
	"skladbot/internal/store"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "skladbot",
	Short: "skladbot - Telegram bot for receipt intake and MoySklad",
	Long: `skladbot takes payment receipts from sales operators over Telegram,
reads the sum and date off the receipt with Tesseract OCR and registers
the payment in MoySklad. Confirmed orders create product cards and
customer orders.

Run without arguments to start the bot.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

// serveCmd runs the bot explicitly; same as the bare command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Telegram bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot()
	},
}

// operatorsCmd manages operator accounts without going through /admin.
var operatorsCmd = &cobra.Command{
	Use:   "operators",
	Short: "Manage operator accounts",
}

var operatorsAddCmd = &cobra.Command{
	Use:   "add [phone] [name] [password]",
	Short: "Register an operator",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		phone := parse.NormalizePhone(args[0])
		if phone == "" {
			return fmt.Errorf("invalid phone: %q", args[0])
		}
		id, err := st.CreateOperator(phone, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("operator #%d created: %s (%s)\n", id, args[1], phone)
		return nil
	},
}

var operatorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered operators",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ops, err := st.ListOperators(0)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("no operators")
			return nil
		}
		for _, op := range ops {
			fmt.Printf("#%d  %s  %s  (since %s)\n", op.ID, op.Phone, op.Name, op.CreatedAt)
		}
		return nil
	},
}

var operatorsDelCmd = &cobra.Command{
	Use:   "del [phone]",
	Short: "Delete an operator by phone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		phone := parse.NormalizePhone(args[0])
		deleted, err := st.DeleteOperatorByPhone(phone)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("no operator with phone %s", phone)
		}
		fmt.Printf("operator %s deleted\n", phone)
		return nil
	},
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfigNoToken()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Storage.DatabasePath, logger)
}

// loadConfigNoToken loads config for offline subcommands that do not need
// the Telegram token.
func loadConfigNoToken() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if os.Getenv("BOT_TOKEN") == "" {
		os.Setenv("BOT_TOKEN", "offline")
		defer os.Unsetenv("BOT_TOKEN")
		return config.Load(configPath)
	}
	return nil, err
}

func runBot() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DatabasePath, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}
	logger.Info("telegram authorized", zap.String("username", api.Self.UserName))

	sklad := moysklad.NewClient(cfg.MoySklad.Token, cfg.MoySklad.BaseURL, cfg.MoySkladTimeout(), logger.Named("moysklad"))
	engine := ocr.NewTesseractEngine(cfg.OCRLanguages(), logger.Named("ocr"))

	b := bot.New(api, cfg, st, sklad, engine, logger.Named("bot"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return b.Run(ctx)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	operatorsCmd.AddCommand(operatorsAddCmd, operatorsListCmd, operatorsDelCmd)
	rootCmd.AddCommand(serveCmd, operatorsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
