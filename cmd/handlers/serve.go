package handlers

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"veilleur/internal/config"
	"veilleur/internal/health"
	"veilleur/internal/logger"
	"veilleur/internal/pipeline"
	"veilleur/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		addr       string
		simulation bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Démarre le serveur d'administration",
		Long: `Expose l'API d'administration : déclenchement et suivi du pipeline,
santé des sources, liste noire et découverte.

Les routes de modification exigent un jeton opérateur
(Authorization: Bearer …), configuré via VEILLEUR_ADMIN_TOKEN.

Exemples :
  veilleur serve
  veilleur serve --addr :9090
  veilleur serve --simulation`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.Get(), addr, simulation)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "adresse d'écoute (défaut : configuration, :8080)")
	cmd.Flags().BoolVar(&simulation, "simulation", false, "sert le pipeline de démonstration, sans réseau ni clé d'API")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, addr string, simulation bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var deps server.Deps
	if simulation {
		deps = server.Deps{
			Manager: pipeline.NewSimulation(),
			Health:  health.NewMemoryStore(),
		}
	} else {
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		deps = a.serverDeps()

		snapCtx, snapCancel := context.WithCancel(context.Background())
		defer snapCancel()
		go a.snapshotter.Run(snapCtx)
	}

	serverCfg := cfg.Server
	if addr != "" {
		serverCfg.Addr = addr
	}
	srv := server.New(deps, serverCfg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Signal received, shutting down")
	deps.Manager.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	deps.Manager.Wait()
	return <-errCh
}
