package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/analyzer"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/api"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/approval"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/config"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/events"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/evidence"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/executor"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/health"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/log"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/metrics"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/orchestrator"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/risk"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/runbook"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/storage"
	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/verifier"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guardian",
	Short: "Guardian - Autonomous failure remediation for EKS clusters",
	Long: `Guardian watches for failing workloads, collects evidence, diagnoses
the root cause, and applies the least-risky remediation it knows -
rolling back on failure and learning a runbook from every verified fix.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Guardian version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(episodeCmd)
	rootCmd.AddCommand(runbookCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the guardian daemon",
	Long: `Run the orchestrator, evidence collector, and HTTP API as a single
process. Cluster access uses the service account when running in-cluster,
or the kubeconfig named in the config file otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Logging.Level),
			JSONOutput: cfg.Logging.JSON,
		})

		fmt.Println("Starting guardian...")
		fmt.Printf("  Autonomy Mode: %s\n", cfg.Orchestrator.AutonomyMode)
		fmt.Printf("  API Address: %s\n", cfg.Server.Address)
		fmt.Printf("  Data Directory: %s\n", cfg.Storage.DataDir)
		fmt.Println()

		store, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %v", err)
		}
		metrics.RegisterComponent("storage", true, "bolt store open")
		fmt.Println("✓ Store opened")

		kubeClient, kubeHost, err := buildKubeClient(cfg.Kube)
		if err != nil {
			return fmt.Errorf("failed to build kubernetes client: %v", err)
		}
		fmt.Println("✓ Kubernetes client configured")

		monitor := health.NewMonitor(health.DefaultConfig())
		monitor.Register("kube", health.NewTCPChecker(kubeHost))

		collector := evidence.NewKubeCollector(kubeClient)

		diag, err := buildAnalyzer(cfg.Analyzer, monitor)
		if err != nil {
			return fmt.Errorf("failed to build analyzer: %v", err)
		}

		gate := approval.NewChannelGate(func(s approval.Summary) {
			log.Logger.Info().
				Str("episode_id", s.EpisodeID).
				Str("target", s.Target.String()).
				Str("risk_tier", string(s.RiskTier)).
				Msg("approval required")
		})

		broker := events.NewBroker()
		broker.Start()

		runbooks := runbook.NewLibrary(store)

		orch := orchestrator.New(orchestrator.Deps{
			Store:     store,
			Collector: collector,
			Analyzer:  diag,
			Risk:      risk.NewClassifierWithPolicy(cfg.Orchestrator.RiskPolicy),
			Gate:      gate,
			Executor:  executor.New(executor.NewKubeApplier(kubeClient), cfg.Orchestrator.ActionTimeout),
			Verifier: verifier.New(collector,
				cfg.Orchestrator.VerifyInterval,
				cfg.Orchestrator.VerifyWindow,
				cfg.Orchestrator.EvidenceWindow),
			Runbooks: runbooks,
			Broker:   broker,
		}, cfg.Orchestrator)
		fmt.Println("✓ Orchestrator ready")

		statsCollector := metrics.NewCollector(store)
		statsCollector.Start()
		monitor.Start()

		apiServer := api.NewServer(cfg.Server.Address, orch, store, runbooks, broker)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		fmt.Printf("✓ API listening on %s\n", cfg.Server.Address)

		fmt.Println()
		fmt.Println("Guardian is running. Press Ctrl+C to stop.")

		// Wait for interrupt signal or API server error
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		// Shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()

		if err := apiServer.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "API shutdown: %v\n", err)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Orchestrator shutdown: %v\n", err)
		}
		monitor.Stop()
		statsCollector.Stop()
		broker.Stop()
		if err := store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to config file (default $GUARDIAN_CONFIG)")
}

// buildKubeClient prefers the in-cluster service account, falling back to
// the kubeconfig (explicit path or the usual loading rules). The returned
// host:port feeds the API server reachability probe.
func buildKubeClient(cfg config.KubeConfig) (kubernetes.Interface, string, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		rules.ExplicitPath = cfg.Kubeconfig
		overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
		if err != nil {
			return nil, "", fmt.Errorf("kubernetes client config: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, "", err
	}
	return client, apiServerHostPort(restCfg.Host), nil
}

func apiServerHostPort(host string) string {
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return host
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return u.Host
}

// buildAnalyzer wires the configured provider with the rule table as
// fallback, so diagnosis still works when the LLM is unreachable.
func buildAnalyzer(cfg config.AnalyzerConfig, monitor *health.Monitor) (analyzer.Analyzer, error) {
	rules := analyzer.NewRulesAnalyzer()
	if cfg.Provider != "openai" {
		fmt.Println("✓ Analyzer ready (rules)")
		return rules, nil
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		log.Warn("no OpenAI API key configured, falling back to rules analyzer")
		fmt.Println("✓ Analyzer ready (rules)")
		return rules, nil
	}

	llm, err := analyzer.NewOpenAIAnalyzer(apiKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	// Any HTTP status proves the path to the endpoint works; auth errors
	// are the analyzer's problem, not the network's.
	monitor.Register("analyzer", health.NewHTTPChecker("https://api.openai.com/v1/models").WithStatusRange(200, 499))
	fmt.Printf("✓ Analyzer ready (openai %s, rules fallback)\n", cfg.Model)
	return analyzer.NewChain(llm, rules), nil
}
