package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	config "customer-twin-api/configs"
	"customer-twin-api/pkg/models"
	"customer-twin-api/pkg/services"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var fixturesPath string
	root := &cobra.Command{
		Use:          "twinctl",
		Short:        "Inspect and exercise the Customer Twin state store offline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&fixturesPath, "fixtures", os.Getenv("TWIN_FIXTURES_PATH"), "Path to fixtures YAML (embedded defaults when empty)")

	load := func() (*config.Fixtures, error) {
		return config.LoadFixtures(fixturesPath)
	}
	root.AddCommand(
		questionsCmd(load),
		planCmd(load),
		simulateCmd(load),
	)
	return root
}

type fixtureLoader func() (*config.Fixtures, error)

func newCatalog(fx *config.Fixtures) *services.QuestionCatalog {
	return services.NewQuestionCatalog(fx.SampleQuestions, fx.FallbackQuestion, fx.FallbackAnswer)
}

func questionsCmd(load fixtureLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "questions",
		Short: "List sample questions and their boosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := load()
			if err != nil {
				return err
			}
			for i, q := range newCatalog(fx).All() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", i+1, q.Question, formatBoosts(q.Boosts))
			}
			return nil
		},
	}
}

func planCmd(load fixtureLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <question>",
		Short: "Show the plan derived for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := load()
			if err != nil {
				return err
			}
			spec, matched := newCatalog(fx).Match(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			if matched {
				fmt.Fprintf(out, "matched: %s\n", spec.Question)
			} else {
				fmt.Fprintln(out, "matched: (fallback)")
			}
			fmt.Fprintf(out, "boosts: %s\n", formatBoosts(spec.Boosts))
			writePlan(out, services.BuildPlan(spec.Boosts, fx.PlanTemplates))
			return nil
		},
	}
}

func simulateCmd(load fixtureLoader) *cobra.Command {
	var (
		delay time.Duration
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "simulate [question...]",
		Short: "Ask questions against an in-memory twin and print the gains",
		Long:  "Asks each argument as a question in order. Without arguments every sample question is asked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := load()
			if err != nil {
				return err
			}
			catalog := newCatalog(fx)
			store := services.NewTwinStore(fx.TwinSeed(), services.WithProcessingDelay(delay))

			questions := args
			if len(questions) == 0 {
				for _, q := range catalog.All() {
					questions = append(questions, q.Question)
				}
			}

			out := cmd.OutOrStdout()
			for _, text := range questions {
				spec, _ := catalog.Match(text)
				spec.Question = text
				res, err := store.AskQuestion(cmd.Context(), spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\n", res.Entry.Question, formatGains(res.Gains))
			}
			if reset {
				store.ResetTwin()
			}
			writeVectors(out, store.Vectors())
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "Simulated processing delay per question")
	cmd.Flags().BoolVar(&reset, "reset", false, "Reset the twin after the run")
	return cmd
}

func formatBoosts(boosts map[models.VectorKey]int) string {
	parts := make([]string, 0, len(boosts))
	for _, key := range models.VectorKeys {
		if b, ok := boosts[key]; ok {
			parts = append(parts, fmt.Sprintf("%s+%d", key, b))
		}
	}
	return strings.Join(parts, ",")
}

func formatGains(gains []models.RecentGain) string {
	if len(gains) == 0 {
		return "(no gain)"
	}
	parts := make([]string, len(gains))
	for i, g := range gains {
		parts[i] = fmt.Sprintf("%s+%d", g.Key, g.Gain)
	}
	return strings.Join(parts, ",")
}

func writePlan(w io.Writer, plan models.QuestionPlan) {
	for _, category := range models.PlanCategories {
		steps := plan.Category(category)
		fmt.Fprintf(w, "%s (%d)\n", category, len(steps))
		for _, s := range steps {
			fmt.Fprintf(w, "  [%s] %s\n", s.Status, s.Title)
		}
	}
}

func writeVectors(w io.Writer, vs models.VectorSet) {
	vs.Each(func(key models.VectorKey, v models.Vector) {
		fmt.Fprintf(w, "%-12s %3d/%d\n", key, v.Value, v.Max)
	})
}
