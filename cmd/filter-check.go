package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/imap2slack/config"
	"github.com/dhcgn/imap2slack/filter"
	"github.com/dhcgn/imap2slack/mbox"
	"github.com/dhcgn/imap2slack/model"
	"github.com/dhcgn/imap2slack/stats"
)

var headersToTrack = []string{"From", "To", "Subject"}

// NewFilterCheckCmd replays an mbox archive through a configured filter.
func NewFilterCheckCmd() *cobra.Command {
	var (
		filterName string
		reportDir  string
		topN       int
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "filter-check [mbox file]",
		Short: "Show which messages of an mbox archive a filter would forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}
			rule, ok := cfg.Filters.Filter[filterName]
			if !ok {
				return fmt.Errorf("filter %q is not defined in %s", filterName, cfg.FiltersPath())
			}
			f, err := filter.Compile(rule)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			total, err := mbox.CountMessages(args[0])
			if err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}
			fmt.Fprintf(out, "Checking %d messages against filter %q\n\n", total, filterName)

			report := newCheckReport()
			err = mbox.Read(args[0], func(env model.Envelope) error {
				line := report.add(f, env)
				if !quiet {
					fmt.Fprintln(out, line)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("error reading mbox file: %w", err)
			}

			report.print(out, topN)

			if reportDir != "" {
				if err := saveCSVReports(report.counter, headersToTrack, reportDir, 1000); err != nil {
					return fmt.Errorf("error saving CSV reports: %w", err)
				}
				fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filterName, "filter", "f", "", "Name of the filter in filters.toml")
	cmd.Flags().StringVarP(&reportDir, "output", "o", "", "Write CSV reports of the forwarded messages to this directory")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")
	_ = cmd.MarkFlagRequired("filter")
	return cmd
}

type checkReport struct {
	forwarded int
	skipped   int
	failed    int
	clauses   map[string]int
	counter   map[string]map[string]int
}

func newCheckReport() *checkReport {
	r := &checkReport{
		clauses: make(map[string]int),
		counter: make(map[string]map[string]int),
	}
	for _, h := range headersToTrack {
		r.counter[h] = make(map[string]int)
	}
	return r
}

// add records the verdict for env and returns the line describing it.
func (r *checkReport) add(f *filter.Filter, env model.Envelope) string {
	if env.Err != nil {
		r.failed++
		return fmt.Sprintf("ERROR\t%v", env.Err)
	}

	rec := env.Record
	res := f.Check(rec)
	if !res.Pass() {
		r.skipped++
		for _, key := range res.Failed() {
			r.clauses[key]++
		}
		return fmt.Sprintf("SKIP\t%d\t%s\t(%s)", rec.ID(), rec.Subject(), strings.Join(res.Failed(), ", "))
	}

	r.forwarded++
	for _, h := range headersToTrack {
		if value := rec.Header(h); value != "" {
			r.counter[h][value]++
		}
	}
	return fmt.Sprintf("FORWARD\t%d\t%s", rec.ID(), rec.Subject())
}

func (r *checkReport) print(w io.Writer, topN int) {
	total := r.forwarded + r.skipped + r.failed
	var percent float64
	if total > 0 {
		percent = float64(r.forwarded) / float64(total) * 100
	}
	fmt.Fprintf(w, "\nChecked %d messages: %d forwarded (%.2f%%), %d skipped, %d undecodable\n\n",
		total, r.forwarded, percent, r.skipped, r.failed)

	if len(r.clauses) > 0 {
		fmt.Fprintln(w, "Rejecting clauses:")
		printClauseHits(w, r.clauses)
		fmt.Fprintln(w)
	}

	for _, header := range headersToTrack {
		if len(r.counter[header]) == 0 {
			continue
		}
		fmt.Fprintf(w, "Top %d forwarded %s:\n", topN, header)
		stats.PrintTop(w, r.counter[header], topN)
		fmt.Fprintln(w)
	}
}

func printClauseHits(w io.Writer, hits map[string]int) {
	keys := make([]string, 0, len(hits))
	for k := range hits {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if hits[keys[i]] != hits[keys[j]] {
			return hits[keys[i]] > hits[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d messages\n", k, hits[k])
	}
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		counts := counter[header]

		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(header))
		file, err := os.Create(filepath.Join(dir, filename))
		if err != nil {
			return err
		}

		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"Value", "Count"}); err != nil {
			file.Close()
			return err
		}

		type pair struct {
			Key   string
			Value int
		}
		var pairs []pair
		for k, v := range counts {
			pairs = append(pairs, pair{k, v})
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].Value != pairs[j].Value {
				return pairs[i].Value > pairs[j].Value
			}
			return pairs[i].Key < pairs[j].Key
		})

		for i := 0; i < limit && i < len(pairs); i++ {
			if err := writer.Write([]string{pairs[i].Key, strconv.Itoa(pairs[i].Value)}); err != nil {
				file.Close()
				return err
			}
		}

		writer.Flush()
		file.Close()
		if err := writer.Error(); err != nil {
			return err
		}
	}

	return nil
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
