// Package handlers holds the cobra commands of the veilleur CLI.
package handlers

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"veilleur/internal/config"
	"veilleur/internal/logger"
)

var cfgFile string

// Version is stamped by the release build.
var Version = "dev"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "veilleur",
		Short: "Pipeline de veille : collecte, regroupement et synthèse de l'actualité",
		Long: `Veilleur surveille un catalogue de sources de presse francophones,
regroupe les articles qui racontent la même histoire et en produit des
synthèses éditoriales, avec suivi des histoires d'un jour sur l'autre.

Exemples :
  # Une exécution de collecte complète
  veilleur run

  # Collecte périodique, toutes les deux heures
  veilleur run --every 2h

  # Synthèses sur des sujets choisis via la recherche web
  veilleur run --mode TOPIC --topic "réforme des retraites"

  # Répétition générale sans réseau ni clé d'API
  veilleur run --mode SIMULATION

  # Serveur d'administration
  veilleur serve`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cfg.App.Debug {
				logger.SetLevel(slog.LevelDebug)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "fichier de configuration (défaut : .veilleur.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewSourcesCmd())
	rootCmd.AddCommand(NewStatusCmd())
	return rootCmd
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Erreur :", err)
		os.Exit(1)
	}
}
