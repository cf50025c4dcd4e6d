package handlers

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"veilleur/internal/config"
	"veilleur/internal/core"
	"veilleur/internal/health"
	"veilleur/internal/logger"
	"veilleur/internal/sources"
)

// NewSourcesCmd creates the sources command group.
func NewSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspecte le catalogue et la santé des sources",
	}
	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesHealthCmd())
	cmd.AddCommand(newSourcesBlacklistCmd())
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Liste les sources du catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := sources.NewDefaultRegistry()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAINE\tNOM\tNIVEAU\tCATÉGORIE\tFLUX")
			for _, src := range registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
					src.Domain, src.Name, src.Tier, src.Category, len(src.FeedURLs))
			}
			return w.Flush()
		},
	}
}

func newSourcesHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Affiche le rapport de santé des sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore, err := healthStoreFromConfig(cmd.Context(), config.Get())
			if err != nil {
				return err
			}
			defer closeStore()

			report, err := store.Report(cmd.Context())
			if err != nil {
				return err
			}

			printBucket("Actives", report.Active)
			printBucket("Dégradées", report.Degraded)
			printBucket("Bloquées", report.Blocked)
			printBucket("Liste noire", report.Blacklisted)
			printBucket("Découvertes", report.Discovered)
			return nil
		},
	}
}

func newSourcesBlacklistCmd() *cobra.Command {
	var remove string

	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Affiche la liste noire, ou en retire un domaine avec --remove",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, closeStore, err := healthStoreFromConfig(ctx, config.Get())
			if err != nil {
				return err
			}
			defer closeStore()

			if remove != "" {
				domain := sources.NormalizeDomain(remove)
				if err := store.Unblacklist(ctx, domain); err != nil {
					return err
				}
				fmt.Printf("%s retiré de la liste noire\n", domain)
				return nil
			}

			domains, err := store.Blacklisted(ctx)
			if err != nil {
				return err
			}
			if len(domains) == 0 {
				fmt.Println("Liste noire vide")
				return nil
			}
			for _, d := range domains {
				fmt.Println(d)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remove, "remove", "", "domaine à retirer de la liste noire")
	return cmd
}

func printBucket(label string, records []core.SourceHealth) {
	fmt.Printf("%s (%d)\n", label, len(records))
	for _, h := range records {
		rate := h.SuccessRate() * 100
		last := "jamais"
		if !h.LastSuccess.IsZero() {
			last = h.LastSuccess.Format("02/01 15:04")
		}
		fmt.Printf("  %-28s %5.1f %%  dernier succès %s\n", h.Domain, rate, last)
		if h.LastError != "" {
			fmt.Printf("    dernière erreur : %s\n", h.LastError)
		}
	}
}

// healthStoreFromConfig opens the redis-backed health store, or falls back to
// the on-disk snapshot when redis is unreachable.
func healthStoreFromConfig(ctx context.Context, cfg *config.Config) (health.Store, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Warn("Redis unreachable, reading the health snapshot instead", "addr", cfg.Redis.Addr, "error", err)
		_ = rdb.Close()
		mem, serr := health.StoreFromSnapshot(cfg.Health.SnapshotPath)
		if serr != nil {
			return nil, nil, fmt.Errorf("ni redis ni l'instantané de santé ne sont lisibles : %w", serr)
		}
		return mem, func() {}, nil
	}
	return health.NewRedisStore(rdb, cfg.Redis.KeyPrefix), func() { _ = rdb.Close() }, nil
}
