package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cognicore/graphreason/pkg/reasoner"
	"github.com/cognicore/graphreason/pkg/reasoner/concept"
	"github.com/cognicore/graphreason/pkg/reasoner/config"
)

type globalFlags struct {
	kbPath  string
	backend string
	path    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "graphreason",
		Short:         "Answer queries over a knowledge graph with rule inference",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.kbPath, "kb", "", "Knowledge base YAML file (required)")
	root.PersistentFlags().StringVar(&g.backend, "backend", "", "Override backend: memory, sqlite or badger")
	root.PersistentFlags().StringVar(&g.path, "path", "", "Override backend path")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")
	_ = root.MarkPersistentFlagRequired("kb")

	root.AddCommand(newLoadCmd(g), newQueryCmd(g), newRulesCmd(g))
	return root
}

func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (g *globalFlags) loader(logger *slog.Logger, skipSeed bool) *config.Loader {
	return &config.Loader{
		KnowledgeBasePath: g.kbPath,
		Backend:           g.backend,
		Path:              g.path,
		SkipSeed:          skipSeed,
		Logger:            logger,
	}
}

func newLoadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Seed the configured backend with the knowledge base data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			comp, err := g.loader(g.logger(cmd.ErrOrStderr()), false).Load(ctx)
			if err != nil {
				return err
			}
			defer comp.Backend.Close()
			s := comp.Seeded
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entities, %d attributes, %d ownerships, %d relations into %s\n",
				s.Entities, s.Attributes, s.Ownerships, s.Relations, comp.KnowledgeBase.Reasoner.Backend)
			return nil
		},
	}
}

// answerJSON is the printed form of one answer.
type answerJSON struct {
	Bindings    map[string]conceptJSON `json:"bindings"`
	Explanation *explanationJSON       `json:"explanation,omitempty"`
}

type conceptJSON struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

type explanationJSON struct {
	ID      string      `json:"id"`
	Rule    string      `json:"rule"`
	Premise *answerJSON `json:"premise,omitempty"`
}

func toAnswerJSON(s concept.Substitution) answerJSON {
	out := answerJSON{Bindings: make(map[string]conceptJSON, s.Len())}
	for v, c := range s.Bindings() {
		out.Bindings[string(v)] = conceptJSON{ID: string(c.ID), Kind: c.Kind.String(), Type: c.Type, Value: c.Value}
	}
	if e := s.Explanation(); e != nil {
		ej := &explanationJSON{ID: e.ID, Rule: e.Rule}
		if e.Premise != nil {
			p := toAnswerJSON(*e.Premise)
			ej.Premise = &p
		}
		out.Explanation = ej
	}
	return out
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		patternPath string
		noSeed      bool
		stats       bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Resolve a YAML pattern and print its answers as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := g.logger(cmd.ErrOrStderr())
			q, err := config.LoadPattern(patternPath)
			if err != nil {
				return fmt.Errorf("load pattern: %w", err)
			}
			comp, err := g.loader(logger, noSeed).Load(ctx)
			if err != nil {
				return err
			}
			r, err := reasoner.New(comp.Options(logger))
			if err != nil {
				comp.Backend.Close()
				return err
			}
			defer r.Close()

			tx := r.Begin(ctx)
			defer tx.Close()
			answers, err := tx.ResolveAll(ctx, q)
			if err != nil {
				return err
			}
			out := make([]answerJSON, 0, len(answers))
			for _, a := range answers {
				out = append(out, toAnswerJSON(a))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if stats {
				st := tx.Stats()
				fmt.Fprintf(cmd.ErrOrStderr(), "entries=%d answers=%d exact_hits=%d subsumptive_hits=%d structural_hits=%d store_lookups=%d compiles=%d fruitless=%d\n",
					st.Entries, st.Answers, st.ExactHits, st.SubsumptiveHits, st.StructuralHits, st.StoreLookups, st.Compiles, st.FruitlessRules)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&patternPath, "pattern", "q", "", "Query pattern YAML file (required)")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "Query the backend as is, without seeding")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print cache statistics to stderr")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}

func newRulesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the knowledge base rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := config.LoadKnowledgeBase(g.kbPath)
			if err != nil {
				return err
			}
			s, err := kb.BuildSchema()
			if err != nil {
				return err
			}
			rules := s.Rules()
			sort.Slice(rules, func(i, j int) bool { return rules[i].Label() < rules[j].Label() })
			w := cmd.OutOrStdout()
			for _, r := range rules {
				flags := ""
				if s.IsRecursive(r.Label()) {
					flags += " recursive"
				}
				if r.RequiresMaterialisation() {
					flags += " materialises"
				}
				fmt.Fprintf(w, "%s:%s\n  %s\n", r.Label(), flags, r)
			}
			return nil
		},
	}
}
