package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/withmartian/deimos-router/pkg/chat"
	"github.com/withmartian/deimos-router/pkg/config"
	"github.com/withmartian/deimos-router/pkg/requestlog"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/rules"
	"github.com/withmartian/deimos-router/pkg/schema"
)

func routeCmd() *cobra.Command {
	var routerFlag string
	var taskFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "route [prompt]",
		Short: "Resolve a prompt against a router without calling a model",
		Long: `Runs the router's rules over the prompt and prints the selected model
	and the trail of rules visited. Classifier-backed rules may still call the
	classifier model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.registry.Lookup(routerFlag)
			if err != nil {
				return err
			}
			req := schema.NewRequest(args[0])
			req.Task = taskFlag

			res, err := r.Resolve(cmd.Context(), req)
			if err != nil {
				printTrailOnError(os.Stderr, err)
				return err
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Printf("Selected model: %s\n\n", res.Model)
			return printTrail(os.Stdout, res.Explanation)
		},
	}

	cmd.Flags().StringVarP(&routerFlag, "router", "r", "default", "router name")
	cmd.Flags().StringVar(&taskFlag, "task", "", "task hint for task rules")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the resolution as JSON")

	return cmd
}

func routersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routers",
		Short: "Show the routers and their top-level rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rf, err := config.LoadRouters(cfg.RoutersFile)
			if err != nil {
				return err
			}

			types := make(map[string]string, len(rf.Rules))
			for _, r := range rf.Rules {
				types[r.Name] = r.Type
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROUTER\tMODEL\tDEFAULT\tRULES")
			routers := append([]config.RouterSpec(nil), rf.Routers...)
			sort.Slice(routers, func(i, j int) bool { return routers[i].Name < routers[j].Name })
			for _, r := range routers {
				var ruleList []string
				for _, name := range r.Rules {
					name = config.RuleRefName(name)
					ruleList = append(ruleList, fmt.Sprintf("%s (%s)", name, types[name]))
				}
				fmt.Fprintf(w, "%s\t%s%s\t%s\t%s\n", r.Name, chat.ModelPrefix, r.Name, r.Default, formatList(ruleList))
			}
			return w.Flush()
		},
	}
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List providers, their models, and aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, aliases, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases(aliases)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")
			for _, provider := range aliases.ListProviders() {
				models := formatList(aliases.GetProviderModels(provider))
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, models, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")

	return cmd
}

func showAliases(aliases *config.ModelAliases) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

	aliasMap := aliases.ListAliases()
	var names []string
	for name := range aliasMap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, alias := range names {
		model := aliasMap[alias]
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, aliases.ProviderFor(model))
	}
	return w.Flush()
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [routers.yaml]",
		Short: "Validate a routers file",
		Long: `Builds every rule and router in the file without calling any model, then
	checks that each model it can select is served by a known provider.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, aliases, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path := cfg.RoutersFile
			if len(args) == 1 {
				path = args[0]
			}

			rf, err := config.LoadRouters(path)
			if err != nil {
				return err
			}
			set, err := rules.Build(rf, rules.WithClassifier(validationClassifier))
			if err != nil {
				return err
			}

			errs := aliases.ValidateRouters(rf)
			if len(errs) > 0 {
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(errs))
				for _, err := range errs {
					fmt.Fprintf(os.Stderr, "  - %s\n", err)
				}
				return fmt.Errorf("validation failed")
			}
			fmt.Printf("%s is valid: %d rules, %d routers.\n", path, len(set.Rules), len(set.Routers))
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var modelFlag string
	var taskFlag string
	var systemFlag string
	var explainFlag bool
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt through a router or directly to a model",
		Long: `Sends a chat completion. A model of the form deimos/<router> is resolved
	by that router first; any other model is called directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			req := &chat.Request{
				Model:     modelFlag,
				Task:      taskFlag,
				Explain:   explainFlag,
				MaxTokens: maxTokens,
			}
			if systemFlag != "" {
				req.Messages = append(req.Messages, schema.Message{Role: schema.RoleSystem, Content: systemFlag})
			}
			req.Messages = append(req.Messages, schema.Message{Role: schema.RoleUser, Content: args[0]})

			resp, err := a.client().Create(cmd.Context(), req)
			if err != nil {
				printTrailOnError(os.Stderr, err)
				return err
			}

			fmt.Println(resp.Content())
			fmt.Fprintln(os.Stderr)
			if resp.Routing != nil {
				fmt.Fprintf(os.Stderr, "router %s selected %s (provider %s)\n", resp.Routing.Router, resp.Routing.SelectedModel, resp.Provider)
			}
			if resp.Cost != nil {
				note := ""
				if resp.Cost.IsEstimate {
					note = " (estimated)"
				}
				fmt.Fprintf(os.Stderr, "cost: %.6f %s%s\n", resp.Cost.Amount, resp.Cost.Currency, note)
			}
			if resp.Routing != nil && len(resp.Routing.Explain) > 0 {
				fmt.Fprintln(os.Stderr)
				return printTrail(os.Stderr, resp.Routing.Explain)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelFlag, "model", "m", chat.ModelPrefix+"default", "model or deimos/<router>")
	cmd.Flags().StringVar(&taskFlag, "task", "", "task hint for task rules")
	cmd.Flags().StringVar(&systemFlag, "system", "", "system message")
	cmd.Flags().BoolVar(&explainFlag, "explain", false, "print the routing trail")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum completion tokens")

	return cmd
}

func logsCmd() *cobra.Command {
	var dateFlag string
	var routerFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print request log entries for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			day := time.Now().UTC()
			if dateFlag != "" {
				day, err = time.Parse(time.DateOnly, dateFlag)
				if err != nil {
					return fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", dateFlag)
				}
			}

			cfg.RequestLog.Enabled = true
			l, err := requestlog.FromConfig(cfg.RequestLog, logger)
			if err != nil {
				return err
			}
			defer l.Close()
			reader, ok := l.Reader()
			if !ok {
				return fmt.Errorf("request log has no readable backend")
			}

			entries, err := reader.Read(cmd.Context(), day)
			if err != nil {
				return err
			}
			if routerFlag != "" {
				filtered := entries[:0]
				for _, e := range entries {
					if e.RouterName == routerFlag {
						filtered = append(filtered, e)
					}
				}
				entries = filtered
			}

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			}
			return printEntries(os.Stdout, entries)
		},
	}

	cmd.Flags().StringVar(&dateFlag, "date", "", "day to print, YYYY-MM-DD (default today, UTC)")
	cmd.Flags().StringVarP(&routerFlag, "router", "r", "", "only entries from this router")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print entries as JSON lines")

	return cmd
}

func printEntries(out io.Writer, entries []*requestlog.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tROUTER\tMODEL\tSTATUS\tLATENCY\tCOST")
	for _, e := range entries {
		routerName := e.RouterName
		if routerName == "" {
			routerName = "-"
		}
		cost := "-"
		if e.Cost != nil {
			cost = fmt.Sprintf("%.6f", *e.Cost)
			if e.CostEstimated {
				cost += "*"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0fms\t%s\n",
			e.Timestamp.Format(time.TimeOnly), shortID(e.ID), routerName, e.SelectedModel, e.Status, e.LatencyMS, cost)
	}
	return w.Flush()
}

func printTrail(out io.Writer, trail router.Explanation) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tRULE\tTYPE\tTRIGGER\tDECISION")
	for i, e := range trail {
		trigger := e.Trigger
		if trigger == "" {
			trigger = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, e.RuleName, e.RuleType, trigger, e.Decision)
	}
	return w.Flush()
}

func printTrailOnError(out io.Writer, err error) {
	var resErr *router.ResolutionError
	if errors.As(err, &resErr) && len(resErr.Explanation) > 0 {
		fmt.Fprintf(out, "trail before failure (%s):\n", router.Kind(err))
		_ = printTrail(out, resErr.Explanation)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatList(items []string) string {
	return strings.Join(items, ", ")
}
