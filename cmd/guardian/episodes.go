package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/client"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/orchestrator"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	return client.New(server)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// parseSignals turns repeated "kind:key=value" flags into signals.
func parseSignals(raw []string) ([]types.Signal, error) {
	signals := make([]types.Signal, 0, len(raw))
	for _, s := range raw {
		kind, rest, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("signal %q: want kind:key=value", s)
		}
		key, value, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, fmt.Errorf("signal %q: want kind:key=value", s)
		}
		signals = append(signals, types.Signal{Kind: kind, Key: key, Value: value})
	}
	return signals, nil
}

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Open a remediation episode for a failing target",
	Long: `Trigger asks the daemon to collect evidence for the target and open
an episode. If an episode is already active for the same failure, the
trigger joins it instead of opening a duplicate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cluster, _ := cmd.Flags().GetString("cluster")
		namespace, _ := cmd.Flags().GetString("namespace")
		resource, _ := cmd.Flags().GetString("resource")
		mode, _ := cmd.Flags().GetString("mode")
		rawSignals, _ := cmd.Flags().GetStringArray("signal")

		signals, err := parseSignals(rawSignals)
		if err != nil {
			return err
		}

		resp, err := apiClient(cmd).Trigger(cmd.Context(), orchestrator.TriggerRequest{
			Target: types.Target{
				Cluster:   cluster,
				Namespace: namespace,
				Resource:  resource,
			},
			Signals: signals,
			Mode:    types.AutonomyMode(mode),
		})
		if err != nil {
			return fmt.Errorf("failed to trigger: %v", err)
		}

		if resp.Created {
			fmt.Printf("✓ Episode %s opened\n", resp.Episode.ID)
		} else {
			fmt.Printf("✓ Joined active episode %s (state: %s)\n", resp.Episode.ID, resp.Episode.State)
		}
		return nil
	},
}

func init() {
	triggerCmd.Flags().String("server", "http://localhost:8080", "Guardian API address")
	triggerCmd.Flags().String("cluster", "", "Cluster name")
	triggerCmd.Flags().String("namespace", "", "Namespace of the failing resource")
	triggerCmd.Flags().String("resource", "", "Resource, e.g. deployment/checkout")
	triggerCmd.Flags().String("mode", "", "Autonomy mode override (dry_run, approve, auto)")
	triggerCmd.Flags().StringArray("signal", nil, "Extra failure signal as kind:key=value (repeatable)")
	triggerCmd.MarkFlagRequired("cluster")
	triggerCmd.MarkFlagRequired("namespace")
	triggerCmd.MarkFlagRequired("resource")
}

// Episode commands
var episodeCmd = &cobra.Command{
	Use:   "episode",
	Short: "Inspect and steer episodes",
}

var episodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List episodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		episodes, err := apiClient(cmd).ListEpisodes(cmd.Context(), types.EpisodeState(state))
		if err != nil {
			return fmt.Errorf("failed to list episodes: %v", err)
		}

		if len(episodes) == 0 {
			fmt.Println("No episodes found")
			return nil
		}
		fmt.Printf("%-38s %-18s %-10s %s\n", "ID", "STATE", "RISK", "TARGET")
		for _, ep := range episodes {
			fmt.Printf("%-38s %-18s %-10s %s\n", ep.ID, ep.State, ep.RiskTier, ep.Target.String())
		}
		return nil
	},
}

var episodeGetCmd = &cobra.Command{
	Use:   "get <episode-id>",
	Short: "Show an episode in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ep, err := apiClient(cmd).GetEpisode(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get episode: %v", err)
		}
		return printJSON(ep)
	},
}

var episodeApproveCmd = &cobra.Command{
	Use:   "approve <episode-id>",
	Short: "Approve a pending remediation plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("approver")
		if err := apiClient(cmd).Approve(cmd.Context(), args[0], approver); err != nil {
			return fmt.Errorf("failed to approve: %v", err)
		}
		fmt.Printf("✓ Episode %s approved\n", args[0])
		return nil
	},
}

var episodeRejectCmd = &cobra.Command{
	Use:   "reject <episode-id>",
	Short: "Reject a pending remediation plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("approver")
		if err := apiClient(cmd).Reject(cmd.Context(), args[0], approver); err != nil {
			return fmt.Errorf("failed to reject: %v", err)
		}
		fmt.Printf("✓ Episode %s rejected\n", args[0])
		return nil
	},
}

var episodeCancelCmd = &cobra.Command{
	Use:   "cancel <episode-id>",
	Short: "Cancel an active episode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).Cancel(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to cancel: %v", err)
		}
		fmt.Printf("✓ Episode %s canceled\n", args[0])
		return nil
	},
}

func init() {
	episodeCmd.PersistentFlags().String("server", "http://localhost:8080", "Guardian API address")
	episodeCmd.AddCommand(episodeListCmd)
	episodeCmd.AddCommand(episodeGetCmd)
	episodeCmd.AddCommand(episodeApproveCmd)
	episodeCmd.AddCommand(episodeRejectCmd)
	episodeCmd.AddCommand(episodeCancelCmd)

	episodeListCmd.Flags().String("state", "", "Filter by episode state")
	episodeApproveCmd.Flags().String("approver", "", "Identity recorded on the approval")
	episodeRejectCmd.Flags().String("approver", "", "Identity recorded on the rejection")
	episodeApproveCmd.MarkFlagRequired("approver")
	episodeRejectCmd.MarkFlagRequired("approver")
}

// Runbook commands
var runbookCmd = &cobra.Command{
	Use:   "runbook",
	Short: "Inspect learned runbooks",
}

var runbookListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned runbooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		runbooks, err := apiClient(cmd).ListRunbooks(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list runbooks: %v", err)
		}

		if len(runbooks) == 0 {
			fmt.Println("No runbooks learned yet")
			return nil
		}
		fmt.Printf("%-66s %-8s %-10s %s\n", "PATTERN", "VERSION", "SUCCESSES", "RISK")
		for _, rb := range runbooks {
			fmt.Printf("%-66s %-8d %-10d %s\n", rb.PatternID, rb.Version, rb.SuccessCount, rb.RiskTier)
		}
		return nil
	},
}

var runbookGetCmd = &cobra.Command{
	Use:   "get <pattern-id>",
	Short: "Show a runbook in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rb, err := apiClient(cmd).GetRunbook(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get runbook: %v", err)
		}
		return printJSON(rb)
	},
}

func init() {
	runbookCmd.PersistentFlags().String("server", "http://localhost:8080", "Guardian API address")
	runbookCmd.AddCommand(runbookListCmd)
	runbookCmd.AddCommand(runbookGetCmd)
}
