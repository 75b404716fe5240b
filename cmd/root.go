package cmd

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "slackvote",
	Short: "slackvote - reaction polls for Slack",
	Long: `slackvote receives Slack Events API callbacks and turns messages such as
"!vote red, blue, green" into a numbered poll with one reaction per option.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// loadEnvFile loads variables from path without overriding ones already set
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		log.Printf("Warning: Error loading %s file: %v", path, err)
	}
	return nil
}
