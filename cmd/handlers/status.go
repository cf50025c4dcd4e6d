package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"veilleur/internal/core"
)

// NewStatusCmd creates the status command, which queries a running admin
// server.
func NewStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Interroge l'état du pipeline sur un serveur en cours d'exécution",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "adresse du serveur d'administration")
	return cmd
}

func runStatus(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/api/pipeline/status")
	if err != nil {
		return fmt.Errorf("serveur injoignable sur %s : %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("réponse inattendue du serveur : %s", resp.Status)
	}

	var st struct {
		Running bool             `json:"running"`
		RunID   string           `json:"run_id"`
		Status  core.RunStatus   `json:"status"`
		Last    *core.RunSummary `json:"last_run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("réponse illisible : %w", err)
	}

	if st.Running {
		fmt.Printf("Pipeline en cours d'exécution (run %s)\n", st.RunID)
	} else {
		fmt.Printf("Pipeline au repos (dernier état : %s)\n", st.Status)
	}
	if st.Last != nil {
		fmt.Println("Dernier bilan :")
		printSummary(*st.Last)
	}
	return nil
}
