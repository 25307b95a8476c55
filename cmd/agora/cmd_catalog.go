package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/talgya/agora/internal/catalog"
)

func (a *app) catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate world catalogs",
	}
	cmd.AddCommand(a.catalogShowCmd(), a.catalogValidateCmd())
	return cmd
}

func (a *app) catalogShowCmd() *cobra.Command {
	var (
		path   string
		asYAML bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resources, recipes and locations of a catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.loadCatalog(path)
			if err != nil {
				return err
			}
			if asYAML {
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cat)
			}
			a.printCatalog(cat)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "catalog file (default: configured catalog)")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the catalog as YAML")
	return cmd
}

func (a *app) catalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog file for errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: ok (%d resources, %d recipes, %d locations, %d edges)\n",
				args[0], len(cat.Resources), len(cat.Recipes), len(cat.Locations), len(cat.Edges))
			return nil
		},
	}
}

func (a *app) printCatalog(cat *catalog.Catalog) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "RESOURCE\tVALUE\tFOOD\tREGEN\tDECAY\n")
	for _, r := range cat.Resources {
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\t%.3f\n", r.ID, r.BaseValue, r.FoodValue, r.RegenRate, r.DecayRate)
	}

	fmt.Fprintf(tw, "\nRECIPE\tINPUTS\tOUTPUTS\tSKILL\n")
	for _, r := range cat.Recipes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, formatItems(r.Inputs), formatItems(r.Outputs), r.Skill)
	}

	fmt.Fprintf(tw, "\nLOCATION\tTYPE\tSHELTER\tRESOURCES\n")
	for _, l := range cat.Locations {
		res := make([]string, 0, len(l.Resources))
		for id := range l.Resources {
			res = append(res, id)
		}
		sort.Strings(res)
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", l.ID, l.Type, l.ShelterQuality, strings.Join(res, ","))
	}
}

func formatItems(items map[string]float64) string {
	parts := make([]string, 0, len(items))
	for _, id := range catalog.SortedKeys(items) {
		parts = append(parts, fmt.Sprintf("%g %s", items[id], id))
	}
	return strings.Join(parts, ", ")
}
