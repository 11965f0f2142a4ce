package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dativo-io/steward/internal/config"
	"github.com/dativo-io/steward/internal/recipe"
)

var recipesFile string

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Inspect the agent recipe catalog",
}

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent types with their models and guardrails",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		renderRecipeList(cmd.OutOrStdout(), cat.List())
		return nil
	},
}

var recipesShowCmd = &cobra.Command{
	Use:   "show [agent-type]",
	Short: "Print one recipe as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		rec, err := cat.Get(args[0])
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rec)
	},
}

func init() {
	recipesCmd.PersistentFlags().StringVar(&recipesFile, "file", "", "recipe overlay file (default: recipes.file)")
	recipesCmd.AddCommand(recipesListCmd)
	recipesCmd.AddCommand(recipesShowCmd)
	rootCmd.AddCommand(recipesCmd)
}

func loadCatalog() (*recipe.Catalog, error) {
	path := recipesFile
	if path == "" {
		path = viper.GetString(config.KeyRecipesFile)
	}
	cat, err := recipe.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading recipes: %w", err)
	}
	return cat, nil
}

// renderRecipeList writes one line per recipe to w.
func renderRecipeList(w io.Writer, recipes []recipe.Recipe) {
	fmt.Fprintf(w, "%-22s %-20s %-20s %s\n", "Agent", "Model", "Fallback", "Guardrails")
	for _, r := range recipes {
		kinds := make([]string, 0, len(r.Guardrails))
		for _, g := range r.Guardrails {
			k := string(g.Kind)
			if g.Blocking {
				k += "!"
			}
			kinds = append(kinds, k)
		}
		fallback := r.FallbackModel
		if fallback == "" {
			fallback = "-"
		}
		extra := ""
		if r.HumanInLoopRequired {
			extra = " [human review]"
		}
		fmt.Fprintf(w, "%-22s %-20s %-20s %s%s\n", r.ID, r.DefaultModel, fallback, strings.Join(kinds, ","), extra)
	}
}
