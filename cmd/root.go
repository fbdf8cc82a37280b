package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "photomind",
	Short: "A face identity pipeline for personal photo libraries",
	Long: `PhotoMind detects faces in a photo library, computes embedding
vectors for them and groups them into persons by similarity. It ships a
web API for browsing and correcting the results and CLI commands for
driving detection and embedding regeneration from the terminal.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
