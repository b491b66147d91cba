// cmd_schedule.go - Schedule Command
// Hauptfunktionen: ScheduleHandler
package cmd

import (
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ollama/ddpm/diffusion"
)

// ScheduleHandler - Gibt die Rauschplan-Tabelle aus
func ScheduleHandler(cmd *cobra.Command, args []string) error {
	cfg := diffusion.DefaultConfig()
	cfg.NoiseSteps, _ = cmd.Flags().GetInt("noise-steps")
	cfg.BetaStart, _ = cmd.Flags().GetFloat64("beta-start")
	cfg.BetaEnd, _ = cmd.Flags().GetFloat64("beta-end")
	if err := cfg.Validate(); err != nil {
		return err
	}

	every, _ := cmd.Flags().GetInt("every")
	if every <= 0 {
		every = 1
	}

	sched := diffusion.NewSchedule(diffusion.PrepareNoiseSchedule(cfg.NoiseSteps, cfg.BetaStart, cfg.BetaEnd))
	beta, alpha, alphaHat := sched.Beta(), sched.Alpha(), sched.AlphaHat()

	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

	var data [][]string
	for t := range sched.Steps() {
		if t%every != 0 && t != sched.Steps()-1 {
			continue
		}
		data = append(data, []string{
			strconv.Itoa(t),
			format(beta[t]),
			format(alpha[t]),
			format(alphaHat[t]),
			format(math.Sqrt(alphaHat[t])),
			format(math.Sqrt(1 - alphaHat[t])),
		})
	}

	table := newTable(cmd, []string{"T", "BETA", "ALPHA", "ALPHA_HAT", "SQRT(ALPHA_HAT)", "SQRT(1-ALPHA_HAT)"})
	table.AppendBulk(data)
	table.Render()

	return nil
}

// newScheduleCmd - Erstellt den schedule Command
func newScheduleCmd() *cobra.Command {
	def := diffusion.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the noise schedule",
		Args:  cobra.NoArgs,
		RunE:  ScheduleHandler,
	}

	cmd.Flags().Int("noise-steps", def.NoiseSteps, "Number of diffusion timesteps")
	cmd.Flags().Float64("beta-start", def.BetaStart, "First beta of the linear schedule")
	cmd.Flags().Float64("beta-end", def.BetaEnd, "Last beta of the linear schedule")
	cmd.Flags().Int("every", 100, "Print every n-th timestep (the last one is always printed)")

	return cmd
}
