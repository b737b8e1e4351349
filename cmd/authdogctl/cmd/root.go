/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package cmd

import (
	"fmt"
	"os"

	authdns "github.com/authdns/authdns"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "authdogctl",
	Short: "Operator CLI for authdns: query, zone dump, diff-log inspect, notify",
}

// Execute adds all child commands to the root command and runs it.
// Called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&authdns.Globals.Verbose, "verbose", "v", false, "Verbose mode")
	rootCmd.PersistentFlags().BoolVarP(&authdns.Globals.Debug, "debug", "d", false, "Debugging output")
}
