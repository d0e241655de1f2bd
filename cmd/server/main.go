package main

import (
	"fmt"
	"os"

	"github.com/forbearing/tol/bootstrap"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "tol",
	Short:   "transactional object layer server",
	Long:    "tol runs the commit and query engines behind an HTTP API",
	Version: "1.0.0",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bootstrap.Bootstrap(); err != nil {
			return err
		}
		return bootstrap.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
