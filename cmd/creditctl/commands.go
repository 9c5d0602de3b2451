package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iclas/credit-engine/credit"
)

// ─── groups ─────────────────────────────────────────────────────────────────

func newGroupsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List customers with their credit totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := c.filter()
			if err != nil {
				return err
			}
			groups, err := c.session.LoadGroups(cmd.Context(), filter)
			if err != nil {
				return err
			}

			sum := c.session.Summary()
			fmt.Fprintf(c.out, "Shop %s (%s): %d credits, %d customers, open %s, %d overdue\n\n",
				c.cfg.Client.Shop, filter, sum.CreditsCount, sum.CustomersCount, c.money(sum.OpenBalance), sum.OverdueCount)

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tPHONE\tCREDITS\tOPEN\tOVERDUE\tNEXT DUE\tSTATUS\tBALANCE")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
					g.Key, dash(g.CustomerName), dash(g.CustomerPhone), g.Totals.CreditsCount,
					g.OpenCount, g.OverdueCount, dash(g.NextDueDate), g.Status(), c.money(g.Totals.OpenBalance))
			}
			return tw.Flush()
		},
	}
}

// ─── ledger ─────────────────────────────────────────────────────────────────

func newLedgerCmd(c *cli) *cobra.Command {
	var customer string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show a customer's sales and payment history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.selectCustomer(cmd, customer)
			if err != nil {
				return err
			}
			c.printLedger(view)
			return nil
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "Customer key, e.g. phone:0788111222 or name:jane")
	cmd.MarkFlagRequired("customer")
	return cmd
}

func (c *cli) selectCustomer(cmd *cobra.Command, customer string) (credit.CustomerLedgerView, error) {
	key, err := credit.ParseCustomerKey(customer)
	if err != nil {
		return credit.CustomerLedgerView{}, err
	}
	filter, err := c.filter()
	if err != nil {
		return credit.CustomerLedgerView{}, err
	}
	if _, err := c.session.LoadGroups(cmd.Context(), filter); err != nil {
		return credit.CustomerLedgerView{}, err
	}
	return c.session.Select(cmd.Context(), key)
}

func (c *cli) printLedger(view credit.CustomerLedgerView) {
	fmt.Fprintf(c.out, "%s  %s %s  [%s]\n", view.Key, view.CustomerName, view.CustomerPhone, view.Status)
	fmt.Fprintf(c.out, "original %s  paid %s  open %s  (%d open, %d closed, %d overdue)\n\n",
		c.money(view.Totals.OriginalAmount), c.money(view.Totals.PaidAmount), c.money(view.Totals.OpenBalance),
		view.OpenCount, view.ClosedCount, view.OverdueCount)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SALE\tDATE\tDUE\tITEMS\tORIGINAL\tPAID\tBALANCE")
	for _, s := range view.Sales {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SaleID, dash(s.SaleDate), dash(s.DueDate), itemSummary(s.Items),
			c.money(s.OriginalAmount), c.money(s.PaidAmount), c.money(s.Balance))
	}
	tw.Flush()

	if len(view.Payments) == 0 {
		fmt.Fprintln(c.out, "\nNo payments yet.")
		return
	}
	fmt.Fprintln(c.out)
	tw = tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAID AT\tSALE\tMETHOD\tAMOUNT\tOPEN AFTER\tNOTE")
	for _, p := range view.Payments {
		paidAt := p.PaidAt
		if paidAt == "" {
			paidAt = p.CreatedAt
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			dash(paidAt), p.SaleID, p.Method, c.money(p.Amount), c.money(p.GroupOpenBalanceAfter), p.Note)
	}
	tw.Flush()
}

// ─── pay ────────────────────────────────────────────────────────────────────

func newPayCmd(c *cli) *cobra.Command {
	var (
		customer string
		amount   string
		method   string
		note     string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Apply a lump-sum payment to a customer's open sales, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q", amount)
			}
			pm, err := credit.ParsePaymentMethod(method)
			if err != nil {
				return err
			}
			if _, err := c.selectCustomer(cmd, customer); err != nil {
				return err
			}

			if dryRun {
				group, _ := c.session.Selected()
				steps, err := c.session.Allocator.Plan(&group, value)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, "Plan (nothing written):")
				c.printSteps(steps)
				return nil
			}

			result, err := c.session.Pay(cmd.Context(), value, pm, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Applied %s by %s to %s:\n", c.money(result.Applied), result.Method, result.Key)
			c.printSteps(result.Steps)

			if g, ok := c.session.Selected(); ok {
				fmt.Fprintf(c.out, "\nRemaining open balance: %s\n", c.money(g.Totals.OpenBalance))
			} else {
				fmt.Fprintln(c.out, "\nCustomer settled.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "Customer key, e.g. phone:0788111222")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount received")
	cmd.Flags().StringVar(&method, "method", "CASH", "Payment method: CASH, MOMO or POS")
	cmd.Flags().StringVar(&note, "note", "", "Note stored on every payment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the allocation without writing")
	cmd.MarkFlagRequired("customer")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *cli) printSteps(steps []credit.AllocationStep) {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SALE\tDATE\tBALANCE\tPAY NOW\tAFTER")
	for _, s := range steps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Sale.SaleID, dash(s.Sale.SaleDate), c.money(s.Sale.Balance), c.money(s.Amount), c.money(s.Sale.Balance.Sub(s.Amount)))
	}
	tw.Flush()
}

func itemSummary(items []credit.SaleItem) string {
	if len(items) == 0 {
		return "-"
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, fmt.Sprintf("%s x%s", it.Name, it.Quantity))
	}
	return strings.Join(names, ", ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
