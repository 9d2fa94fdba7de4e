package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = cobra.Command{
	Use:   "englivo-backend",
	Short: "Englivo matchmaking and session backend",
	Long:  "Pairs learners for live conversation practice and analyzes finished sessions in the background",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
