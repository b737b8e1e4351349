/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/authdns/authdns/difflog"
	"github.com/spf13/cobra"
)

var difflogCmd = &cobra.Command{
	Use:   "difflog",
	Short: "Inspect the on-disk differential-update log",
}

// difflogShowCmd walks a diff-log file part by part without applying
// it to any zone, printing each IXFR_PART's enclosed message summary
// and each COMMIT_PART's zone/serial/committed status (spec.md §4.6.1).
var difflogShowCmd = &cobra.Command{
	Use:   "show <logfile>",
	Short: "Print the parts stored in a diff-log file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Printf("Error opening %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()

		partNum := 0
		for {
			tag, payload, err := difflog.ReadPart(f)
			if err == io.EOF {
				break
			}
			if err != nil {
				fmt.Printf("Error at part %d: %v\n", partNum, err)
				os.Exit(1)
			}
			partNum++

			switch tag {
			case difflog.IxfrPart:
				msg, err := difflog.DecodeIxfrPart(payload)
				if err != nil {
					fmt.Printf("part %d: IXFR_PART, malformed: %v\n", partNum, err)
					continue
				}
				fmt.Printf("part %d: IXFR_PART, %d answer RR(s), id=%d\n",
					partNum, len(msg.Answer), msg.Id)
			case difflog.CommitPart:
				c, err := difflog.DecodeCommitPart(payload)
				if err != nil {
					fmt.Printf("part %d: COMMIT_PART, malformed: %v\n", partNum, err)
					continue
				}
				fmt.Printf("part %d: COMMIT_PART, zone=%s new_serial=%d committed=%v msg=%q\n",
					partNum, c.ZoneName, c.NewSerial, c.Committed, c.LogMsg)
			default:
				fmt.Printf("part %d: unknown tag %d, %d byte payload\n", partNum, tag, len(payload))
			}
		}
		fmt.Printf(";; %d part(s) total\n", partNum)
	},
}

// difflogSnipCmd runs SnipGarbage against a log file, truncating any
// torn trailing write.
var difflogSnipCmd = &cobra.Command{
	Use:   "snip <logfile>",
	Short: "Truncate a diff-log file to its last complete part",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kept, err := difflog.SnipGarbage(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: kept %d byte(s)\n", args[0], kept)
	},
}

func init() {
	rootCmd.AddCommand(difflogCmd)
	difflogCmd.AddCommand(difflogShowCmd)
	difflogCmd.AddCommand(difflogSnipCmd)
}
