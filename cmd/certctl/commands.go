package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"slab-scout/internal/domain"
	"slab-scout/internal/provider"
	"slab-scout/internal/scoring"

	"github.com/google/subcommands"
)

type lookupAPI interface {
	LookupByCert(ctx context.Context, certNumber string) (*domain.LookupResult, error)
	LookupPopulation(ctx context.Context, specID string) (*domain.PopulationLookup, error)
	ValidateCert(ctx context.Context, certNumber string) (*domain.CertValidation, error)
}

type lookupCmd struct {
	minConfidence float64
}

func (*lookupCmd) Name() string     { return "lookup" }
func (*lookupCmd) Synopsis() string { return "look up a cert with scored market listings" }
func (*lookupCmd) Usage() string {
	return `certctl lookup [-min-confidence <score>] <cert-number>

Fetches the certification record and comparable marketplace listings, and
prints the aggregated result as JSON.
`
}

func (c *lookupCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.minConfidence, "min-confidence", 0, "Drop listings scoring below this confidence (0-10)")
}

func (c *lookupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one cert number is required")
		return subcommands.ExitUsageError
	}
	return withLookup(ctx, func(api lookupAPI) (any, error) {
		res, err := api.LookupByCert(ctx, f.Arg(0))
		if err != nil {
			return nil, err
		}
		if c.minConfidence > 0 {
			res.Sold = filterConfidence(res.Sold, c.minConfidence)
			res.Active = filterConfidence(res.Active, c.minConfidence)
			res.Auctions = filterConfidence(res.Auctions, c.minConfidence)
		}
		return res, nil
	})
}

type popCmd struct{}

func (*popCmd) Name() string     { return "pop" }
func (*popCmd) Synopsis() string { return "print the population report for a spec id" }
func (*popCmd) Usage() string {
	return `certctl pop <spec-id>
`
}
func (*popCmd) SetFlags(*flag.FlagSet) {}

func (*popCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one spec id is required")
		return subcommands.ExitUsageError
	}
	return withLookup(ctx, func(api lookupAPI) (any, error) {
		return api.LookupPopulation(ctx, f.Arg(0))
	})
}

type validateCmd struct{}

func (*validateCmd) Name() string     { return "validate" }
func (*validateCmd) Synopsis() string { return "check that a cert number is well formed and exists" }
func (*validateCmd) Usage() string {
	return `certctl validate <cert-number>
`
}
func (*validateCmd) SetFlags(*flag.FlagSet) {}

func (*validateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one cert number is required")
		return subcommands.ExitUsageError
	}
	var out *domain.CertValidation
	status := withLookup(ctx, func(api lookupAPI) (any, error) {
		v, err := api.ValidateCert(ctx, f.Arg(0))
		out = v
		return v, err
	})
	if status == subcommands.ExitSuccess && (out == nil || !out.Valid || !out.Exists) {
		return subcommands.ExitFailure
	}
	return status
}

// scoreCmd rates a title offline, without contacting any upstream.
type scoreCmd struct {
	name, set, number, grade string
}

func (*scoreCmd) Name() string     { return "score" }
func (*scoreCmd) Synopsis() string { return "score a listing title against a card" }
func (*scoreCmd) Usage() string {
	return `certctl score -name <name> [-set <set>] [-number <number>] [-grade <grade>] <title>
`
}

func (c *scoreCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Card name")
	f.StringVar(&c.set, "set", "", "Set name")
	f.StringVar(&c.number, "number", "", "Card number, e.g. 4/102")
	f.StringVar(&c.grade, "grade", "", "Target grade")
}

func (c *scoreCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one title is required")
		return subcommands.ExitUsageError
	}
	title := f.Arg(0)
	card := domain.NewCardSignature(c.name, c.set, c.number, c.grade)

	out := struct {
		Title    string                    `json:"title"`
		Card     domain.CardSignature      `json:"card"`
		Lot      bool                      `json:"excludedAsLot"`
		Score    float64                   `json:"confidence"`
		Category domain.ConfidenceCategory `json:"confidenceCategory"`
	}{Title: title, Card: card, Lot: provider.IsMultiCardLot(title)}

	res := scoring.NewScorer(domain.Grader).ScoreTitle(title, card, nil)
	out.Score, out.Category = res.Score, res.Category
	return printJSON(out)
}

func withLookup(ctx context.Context, fn func(lookupAPI) (any, error)) subcommands.ExitStatus {
	api, closeFn, err := newLookupFunc(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	v, err := fn(api)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if domain.IsValidation(err) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return printJSON(v)
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func filterConfidence(listings []domain.MarketListing, threshold float64) []domain.MarketListing {
	out := make([]domain.MarketListing, 0, len(listings))
	for _, l := range listings {
		if l.Confidence >= threshold {
			out = append(out, l)
		}
	}
	return out
}
