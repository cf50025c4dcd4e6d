package handlers

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"veilleur/internal/config"
	"veilleur/internal/core"
	"veilleur/internal/logger"
	"veilleur/internal/pipeline"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		mode    string
		topics  []string
		domains []string
		every   time.Duration
		jitter  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Lance une exécution du pipeline de veille",
		Long: `Exécute le pipeline une fois, ou en boucle avec --every.

Modes :
  SCRAPE      collecte les sources du catalogue (défaut)
  TOPIC       produit des synthèses sur les sujets donnés via la recherche web
  SIMULATION  corpus de démonstration intégré, sans réseau ni clé d'API

Exemples :
  veilleur run
  veilleur run --every 2h --jitter 5m
  veilleur run --mode TOPIC --topic "réforme des retraites" --topic "prix de l'énergie"
  veilleur run --mode SCRAPE --domain lemonde.fr
  veilleur run --mode SIMULATION`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Get()
			if !cmd.Flags().Changed("every") {
				every = config.Duration(cfg.Scheduler.Every, 0)
			}
			if !cmd.Flags().Changed("jitter") {
				jitter = config.Duration(cfg.Scheduler.Jitter, 2*time.Minute)
			}
			return runPipeline(cmd.Context(), cfg, mode, topics, domains, every, jitter)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "SCRAPE", "mode d'exécution : SCRAPE, TOPIC ou SIMULATION")
	cmd.Flags().StringArrayVar(&topics, "topic", nil, "sujet pour le mode TOPIC (répétable)")
	cmd.Flags().StringArrayVar(&domains, "domain", nil, "restreint la collecte à ces domaines (répétable)")
	cmd.Flags().DurationVar(&every, "every", 0, "relance le pipeline à cet intervalle (défaut : exécution unique)")
	cmd.Flags().DurationVar(&jitter, "jitter", 0, "délai aléatoire ajouté à chaque relance")
	return cmd
}

func runPipeline(ctx context.Context, cfg *config.Config, rawMode string, topics, domains []string, every, jitter time.Duration) error {
	runMode, err := parseRunMode(rawMode)
	if err != nil {
		return err
	}
	if runMode == core.ModeTopic && len(topics) == 0 {
		return fmt.Errorf("le mode TOPIC exige au moins un --topic")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var manager *pipeline.Manager
	if runMode == core.ModeSimulation {
		manager = pipeline.NewSimulation()
	} else {
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		manager = a.manager

		snapCtx, snapCancel := context.WithCancel(context.Background())
		defer snapCancel()
		go a.snapshotter.Run(snapCtx)
	}

	// A signal cancels the in-flight run; the pipeline winds down and the
	// summary reports cancelled.
	go func() {
		<-ctx.Done()
		manager.Stop()
	}()

	opts := pipeline.RunOptions{Mode: runMode, Domains: domains, Topics: topics}
	if every <= 0 {
		return runOnce(manager, opts)
	}

	logger.Info("Scheduler started", "every", every.String(), "jitter", jitter.String())
	for {
		if err := runOnce(manager, opts); err != nil {
			logger.Warn("Scheduled run failed", "error", err)
		}
		delay := every
		if jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(jitter)))
		}
		fmt.Printf("Prochaine exécution dans %s\n", delay.Round(time.Second))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func runOnce(manager *pipeline.Manager, opts pipeline.RunOptions) error {
	runID, err := manager.Start(opts)
	if err != nil {
		return err
	}
	manager.Wait()

	st := manager.Status()
	if st.Last == nil || st.Last.RunID != runID {
		return fmt.Errorf("exécution %s terminée sans bilan", runID)
	}
	printSummary(*st.Last)
	if st.Last.Status == core.RunError {
		return fmt.Errorf("exécution %s en erreur : %s", runID, st.Last.Error)
	}
	return nil
}

func printSummary(sum core.RunSummary) {
	fmt.Printf("Run %s (%s) : %s en %s\n", sum.RunID, sum.Mode, sum.Status, sum.Duration.Round(time.Millisecond))
	fmt.Printf("  Sources    : %d tentées, %d réussies, %d en échec\n", sum.SourcesAttempted, sum.SourcesSucceeded, sum.SourcesFailed)
	fmt.Printf("  Articles   : %d collectés, %d après déduplication\n", sum.ArticlesCollected, sum.ArticlesAfterDedup)
	fmt.Printf("  Synthèses  : %d grappes, %d créées, %d mises à jour, %d ignorées\n",
		sum.ClustersFound, sum.SynthesesCreated, sum.SynthesesUpdated, sum.ClustersSkipped)
	if sum.TotalCostUSD > 0 {
		fmt.Printf("  Coût       : %.4f USD\n", sum.TotalCostUSD)
	}
}

func parseRunMode(raw string) (core.RunMode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(core.ModeScrape):
		return core.ModeScrape, nil
	case string(core.ModeTopic):
		return core.ModeTopic, nil
	case string(core.ModeSimulation):
		return core.ModeSimulation, nil
	}
	return "", fmt.Errorf("mode inconnu %q (SCRAPE, TOPIC ou SIMULATION)", raw)
}
