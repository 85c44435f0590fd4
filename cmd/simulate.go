package cmd

import (
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/ejector/simulator"
	"github.com/michaelpento.lv/ejector/types"
	"github.com/michaelpento.lv/ejector/utils"
	bigmath "github.com/michaelpento.lv/ejector/utils/math"
)

var (
	simUser        string
	simShowMetrics bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a self-liquidation against an in-memory market",
	Long: `simulate builds the market described by the simulation section of the
config, opens the configured position and self-liquidates it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var user common.Address
		if simUser != "" {
			if !common.IsHexAddress(simUser) {
				return fmt.Errorf("invalid user address %q", simUser)
			}
			user = common.HexToAddress(simUser)
		}

		world, err := simulator.NewWorld(cmd.Context(), cfg, utils.GetLogger())
		if err != nil {
			return err
		}
		report, err := world.Run(cmd.Context(), user)
		if err != nil {
			return err
		}

		printReport(cmd.OutOrStdout(), world, report)
		return report.Err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simUser, "user", "", "position owner (default from config)")
	simulateCmd.Flags().BoolVar(&simShowMetrics, "metrics", false, "print collected metrics")
	rootCmd.AddCommand(simulateCmd)
}

func printReport(out io.Writer, w *simulator.World, r *simulator.Report) {
	symbol := func(addr common.Address) string { return w.Ledger.Symbol(addr) }
	amount := func(ta types.TokenAmount) string {
		for _, t := range w.Tokens() {
			if t.Address == ta.Token {
				return bigmath.FormatUnits(ta.Amount, t.Decimals) + " " + t.Symbol
			}
		}
		return ta.Amount.String() + " " + symbol(ta.Token)
	}

	fmt.Fprintf(out, "user        %s\n", r.User.Hex())
	fmt.Fprintf(out, "before      collateral %s ETH, debt %s ETH, health %s\n",
		eth(r.Before.TotalCollateral), eth(r.Before.TotalDebt), health(r.Before.HealthFactor))
	fmt.Fprintf(out, "after       collateral %s ETH, debt %s ETH, health %s\n",
		eth(r.After.TotalCollateral), eth(r.After.TotalDebt), health(r.After.HealthFactor))

	if r.Err != nil {
		fmt.Fprintf(out, "result      aborted: %v\n", r.Err)
	} else {
		res := r.Result
		fmt.Fprintf(out, "result      %s in %s\n", res.State, r.Duration)
		for i, loan := range res.Loans {
			fmt.Fprintf(out, "loan        %s (premium %s)\n", amount(loan), amount(res.Premiums[i]))
		}
		for _, s := range res.Swaps {
			kind := "exact-in"
			if s.ExactOutput {
				kind = "exact-out"
			}
			fmt.Fprintf(out, "swap        %s -> %s (%s)\n",
				amount(types.TokenAmount{Token: s.TokenIn, Amount: s.AmountIn}),
				amount(types.TokenAmount{Token: s.TokenOut, Amount: s.AmountOut}), kind)
		}
		for _, left := range res.Residuals {
			fmt.Fprintf(out, "residual    %s\n", amount(left))
		}
		fmt.Fprintf(out, "residual    %s ETH total\n", eth(res.ResidualValue))
	}

	if simShowMetrics {
		for _, s := range r.Metrics {
			fmt.Fprintf(out, "metric      %s\n", s)
		}
	}
}

func eth(v *big.Int) string {
	return bigmath.FormatUnits(v, 18)
}

func health(v *big.Int) string {
	if types.IsMax(v) {
		return "inf"
	}
	return eth(v)
}
