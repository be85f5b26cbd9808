// marginctl 保证金池子和风控的命令行工具
//
//	marginctl pool snapshot -f pool.json
//	marginctl risk evaluate -f position.json
//	marginctl shock sweep -f position.json --moves -30,-10,0,10
//	marginctl concentration -f events.json --pool usdc --side supply
//	marginctl monitor --config configs/margin.yaml
package main

import (
	"os"

	"github.com/spf13/cobra"

	"max.com/margin/pkg/logger"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		logger.L().WithError(err).Error("marginctl failed")
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "marginctl",
		Short:         "Margin pool accounting and risk toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("output", "o", "json", "output format: json or yaml")
	root.AddCommand(
		poolCommand(),
		riskCommand(),
		shockCommand(),
		concentrationCommand(),
		monitorCommand(),
	)
	return root
}
