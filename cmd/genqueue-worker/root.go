package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use: "genqueue-worker",
}

func init() {
	rootCmd.AddCommand(runCmd)
}
