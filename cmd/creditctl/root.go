package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iclas/credit-engine/config"
	"github.com/iclas/credit-engine/credit"
	"github.com/iclas/credit-engine/ledgerclient"
)

// cli carries what every subcommand needs once flags are resolved.
type cli struct {
	out io.Writer

	configPath string
	baseURL    string
	shop       string
	status     string
	timeout    time.Duration
	logLevel   string

	cfg     config.Config
	log     *logrus.Logger
	session *credit.Session
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "creditctl",
		Short: "Inspect and settle customer credit",
		Long: `creditctl groups a shop's credit sales by customer, shows a customer's
payment history, and records lump-sum payments that are applied to the
customer's open sales oldest first.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(out)
	root.SetErr(os.Stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "TOML config file")
	flags.StringVar(&c.baseURL, "url", "", "Ledger Store base URL (overrides config)")
	flags.StringVar(&c.shop, "shop", "", "Shop ID (overrides config)")
	flags.StringVar(&c.status, "status", "open", "Credit filter: open, closed or all")
	flags.DurationVar(&c.timeout, "timeout", 0, "Per-request timeout (overrides config)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level (overrides config)")

	root.AddCommand(newGroupsCmd(c), newLedgerCmd(c), newPayCmd(c))
	return root
}

// setup resolves config, logger, client and session.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.baseURL != "" {
		cfg.Client.BaseURL = c.baseURL
	}
	if c.shop != "" {
		cfg.Client.Shop = c.shop
	}
	if c.timeout > 0 {
		cfg.Client.Timeout = c.timeout
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if cfg.Client.Shop == "" {
		return fmt.Errorf("no shop: pass --shop or set CREDIT_SHOP")
	}

	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	client := ledgerclient.New(cfg.Client.BaseURL, cfg.Client.Timeout)
	client.Log = log

	session := credit.NewSession(client, credit.ShopID(cfg.Client.Shop))
	session.Log = log
	session.Loader = credit.NewDetailLoader(client, cfg.Engine.DetailConcurrency)
	session.Allocator.Log = log

	c.cfg, c.log, c.session = cfg, log, session
	return nil
}

func (c *cli) filter() (credit.StatusFilter, error) {
	return credit.ParseStatusFilter(c.status)
}

// money renders an amount with the configured currency.
func (c *cli) money(m credit.Money) string {
	return m.String() + " " + c.cfg.Engine.Currency
}
