// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ollama/ddpm/envconfig"
	"github.com/ollama/ddpm/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Laedt .env und setzt den Default-Logger
// Eine fehlende .env ist kein Fehler, Flags ueberschreiben die Umgebung
func setupLogging(cmd *cobra.Command, args []string) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Debug("environment", "env", envconfig.Values())
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:               "ddpm",
		Short:             "Train and sample denoising diffusion models",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRun:  setupLogging,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	// Commands erstellen
	trainCmd := newTrainCmd()
	sampleCmd := newSampleCmd()
	scheduleCmd := newScheduleCmd()
	runsCmd := newRunsCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	storageEnvs := []envconfig.EnvVar{
		envVars["DDPM_S3_ENDPOINT"],
		envVars["DDPM_S3_REGION"],
		envVars["AWS_ACCESS_KEY_ID"],
		envVars["AWS_SECRET_ACCESS_KEY"],
	}

	for _, cmd := range []*cobra.Command{trainCmd, sampleCmd, scheduleCmd, runsCmd} {
		switch cmd {
		case trainCmd:
			appendEnvDocs(cmd, append([]envconfig.EnvVar{
				envVars["DDPM_DEBUG"],
				envVars["DDPM_DEVICE"],
				envVars["DDPM_HOME"],
				envVars["DDPM_SEED"],
				envVars["DDPM_NUM_WORKERS"],
				envVars["DDPM_RUNLOG"],
			}, storageEnvs...))
		case sampleCmd:
			appendEnvDocs(cmd, append([]envconfig.EnvVar{
				envVars["DDPM_DEBUG"],
				envVars["DDPM_DEVICE"],
				envVars["DDPM_SEED"],
			}, storageEnvs...))
		case runsCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["DDPM_HOME"], envVars["DDPM_RUNLOG"]})
		default:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["DDPM_DEBUG"]})
		}
	}

	rootCmd.AddCommand(
		trainCmd,
		sampleCmd,
		scheduleCmd,
		runsCmd,
	)

	return rootCmd
}
