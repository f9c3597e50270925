package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/medorch/pkg/config"
)

func healthCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show circuit, budget and credential status per provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			health := orch.ProviderHealth()
			w := cmd.OutOrStdout()
			switch output {
			case "json":
				return writeJSONTo(w, health)
			case "yaml":
				return writeYAMLTo(w, health)
			}

			ids := make([]string, 0, len(health))
			for id := range health {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool {
				return health[ids[i]].Priority < health[ids[j]].Priority
			})

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tCIRCUIT\tDAILY LEFT\tMONTHLY LEFT\tKEYS\tRATE LEFT\tSTATUS")
			for _, id := range ids {
				h := health[id]
				status := "ready"
				switch {
				case !h.Admissible:
					status = "circuit open"
				case h.Credentials.Available == 0:
					status = "no key"
				case h.LowBudget:
					status = "low budget"
				}
				rate := "unlimited"
				if h.RateRemaining >= 0 {
					rate = fmt.Sprintf("%d", h.RateRemaining)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					id, h.Circuit, h.DailyRemaining, h.MonthlyRemaining,
					h.Credentials.Available, h.Credentials.Total, rate, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			global := orch.GlobalBudget()
			if global.Unlimited {
				_, err = fmt.Fprintln(w, "\nglobal monthly remaining: unlimited")
				return err
			}
			_, err = fmt.Fprintf(w, "\nglobal monthly remaining: %s of %s\n",
				global.Remaining.StringFixed(2), global.Cap.StringFixed(2))
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func providersCmd() *cobra.Command {
	var dumpFlag bool
	var aliasesFlag bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		Long: `Lists every configured provider with its adapter, model, priority and
	task tags. Use --dump to print the effective merged configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if dumpFlag {
				out, err := cfg.Dump()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if aliasesFlag {
				return showAliases(cmd.OutOrStdout(), cfg)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tADAPTER\tMODEL\tPRIORITY\tTASKS\tSTATUS")

			ids := make([]string, 0, len(cfg.Providers))
			for id := range cfg.Providers {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				p := cfg.Providers[id]
				status := "no key"
				switch {
				case p.Disabled:
					status = "disabled"
				case cfg.HasCredentials(id):
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					id, p.Adapter, cfg.Aliases.Resolve(p.Model), p.Priority, formatList(p.Capabilities), status)
			}
			if len(cfg.Sources) > 0 {
				fmt.Fprintf(w, "\nloaded from: %s\n", formatList(cfg.Sources))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&dumpFlag, "dump", false, "print the effective configuration as YAML")
	cmd.Flags().BoolVar(&aliasesFlag, "aliases", false, "show model aliases and what they resolve to")
	return cmd
}

func showAliases(out io.Writer, cfg *config.Config) error {
	if len(cfg.Aliases) == 0 {
		fmt.Fprintln(out, "No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL")

	names := make([]string, 0, len(cfg.Aliases))
	for name := range cfg.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, cfg.Aliases[name])
	}
	return w.Flush()
}
