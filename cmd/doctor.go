package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loco-cli/loco/pkg/metrics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity to the model server",
	Long: `Probes the model server's model listing and reports whether the
configured model is available. Useful as a first step when requests fail.

Example:
  loco doctor
  loco doctor --timeout 2s`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().Duration("timeout", 5*time.Second, "probe timeout")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := newClient(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintf(os.Stderr, "Probing %s...\n", cfg.LLM.Endpoint)
	start := time.Now()
	status := client.TestConnection(ctx, timeout)
	elapsed := time.Since(start).Round(time.Millisecond)

	fmt.Println()
	fmt.Printf("Endpoint:   %s\n", cfg.LLM.Endpoint)
	fmt.Printf("Model:      %s\n", cfg.LLM.Model)

	switch {
	case status.OK:
		fmt.Printf("Status:     reachable (%v)\n", elapsed)
		fmt.Printf("Models:     %d available\n", len(status.Models))
		for _, m := range status.Models {
			marker := " "
			if m == cfg.LLM.Model {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, m)
		}
		if !containsModel(status.Models, cfg.LLM.Model) {
			fmt.Println()
			fmt.Printf("Warning: model %q is not in the server's model list.\n", cfg.LLM.Model)
			fmt.Println("Pull it first (e.g. `ollama pull " + cfg.LLM.Model + "`) or pick one of the models above with --model.")
			return nil
		}
		fmt.Println()
		fmt.Println("Everything looks good.")
		return nil

	case status.TimedOut:
		fmt.Printf("Status:     timed out after %v\n", timeout)
		fmt.Println()
		fmt.Println("The server accepted nothing within the deadline. If the model is")
		fmt.Println("still loading into memory, wait and retry with a larger --timeout.")
		return fmt.Errorf("probe timed out")

	default:
		fmt.Printf("Status:     unreachable\n")
		fmt.Printf("Error:      %s\n", status.Error)
		return fmt.Errorf("probe failed")
	}
}

func containsModel(models []string, name string) bool {
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}
