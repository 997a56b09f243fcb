package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"roundtrip-arb-alerts/internal/app"
)

var (
	simulateRoute   string
	simulateProfit  string
	simulateForward string
	simulateReturn  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次套利机会并通过已配置通道发送告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		profit, err := decimal.NewFromString(simulateProfit)
		if err != nil {
			return fmt.Errorf("invalid --profit value: %w", err)
		}
		if !profit.IsPositive() {
			return fmt.Errorf("--profit 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Route:        simulateRoute,
			Profit:       profit,
			ForwardLabel: simulateForward,
			ReturnLabel:  simulateReturn,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRoute, "route", "", "路线名称（默认第一条）")
	simulateCmd.Flags().StringVar(&simulateProfit, "profit", "", "模拟的往返利润（输入资产计价）")
	simulateCmd.Flags().StringVar(&simulateForward, "forward", "", "去程标签")
	simulateCmd.Flags().StringVar(&simulateReturn, "return", "", "回程标签")
	_ = simulateCmd.MarkFlagRequired("profit")
}
