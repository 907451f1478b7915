package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/store"
	"github.com/abhisek/tutorpolicy/internal/ui/theme"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect recorded generation calls",
	Long: "Every call to the generation service is recorded with its purpose " +
		"(classify, respond-<action>, critic, preference, ...), tutor session, " +
		"model, token usage and the full request and response.",
}

var llmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generation calls, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		opts := store.QueryOpts{}
		opts.Limit, _ = flags.GetInt("limit")
		opts.Purpose, _ = flags.GetString("purpose")
		opts.SessionID, _ = flags.GetString("session")
		failedOnly, _ := flags.GetBool("failed")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		events, err := s.EventRepo().QueryLLMEvents(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		if failedOnly {
			kept := events[:0]
			for _, e := range events {
				if !e.Success {
					kept = append(kept, e)
				}
			}
			events = kept
		}
		if len(events) == 0 {
			fmt.Println("No generation calls recorded.")
			return nil
		}

		const row = "%-5v  %-19v  %-18v  %-28v  %6v  %6v  %6v  %v\n"
		fmt.Printf(row, "ID", "Time", "Purpose", "Model", "In", "Out", "Ms", "")
		rule(100)
		for _, e := range events {
			mark := theme.Good.Render("ok")
			if !e.Success {
				mark = theme.Bad.Render("failed")
			}
			fmt.Printf(row, e.ID, e.Timestamp.Local().Format(timeLayout), truncate(e.Purpose, 18),
				truncate(e.Model, 28), e.InputTokens, e.OutputTokens, e.LatencyMs, mark)
		}
		return nil
	},
}

var llmViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Show one generation call with its request and response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("event id %q is not a number", args[0])
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		e, err := s.EventRepo().GetLLMEvent(context.Background(), id)
		if err != nil {
			return fmt.Errorf("get event %d: %w", id, err)
		}
		if e == nil {
			return fmt.Errorf("event %d not found", id)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(e)
		}

		fmt.Println(theme.Title.Render(fmt.Sprintf("Generation call %d", e.ID)))
		fmt.Println(theme.Field("Time", e.Timestamp.Local().Format(timeLayout)))
		fmt.Println(theme.Field("Provider", e.Provider))
		fmt.Println(theme.Field("Model", e.Model))
		fmt.Println(theme.Field("Purpose", e.Purpose))
		if e.SessionID != "" {
			fmt.Println(theme.Field("Session", e.SessionID))
		}
		fmt.Println(theme.Field("Tokens", fmt.Sprintf("%d in, %d out", e.InputTokens, e.OutputTokens)))
		fmt.Println(theme.Field("Latency", fmt.Sprintf("%dms", e.LatencyMs)))
		if e.Success {
			fmt.Println(theme.Field("Outcome", theme.Good.Render("ok")))
		} else {
			fmt.Println(theme.Field("Outcome", theme.Bad.Render(e.ErrorMessage)))
		}

		for _, part := range []struct{ title, body string }{
			{"Request", e.RequestBody},
			{"Response", e.ResponseBody},
		} {
			fmt.Println()
			fmt.Println(theme.Title.Render(part.title))
			if part.body == "" {
				fmt.Println(theme.Hint.Render("(empty)"))
				continue
			}
			fmt.Println(part.body)
		}
		return nil
	},
}

var llmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize token usage per purpose and estimated cost per model",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		byPurpose, err := s.EventRepo().LLMUsageByPurpose(ctx)
		if err != nil {
			return fmt.Errorf("usage by purpose: %w", err)
		}
		if len(byPurpose) == 0 {
			fmt.Println("No generation calls recorded.")
			return nil
		}
		printPurposeUsage(byPurpose)

		byModel, err := s.EventRepo().LLMUsageByModel(ctx)
		if err != nil {
			return fmt.Errorf("usage by model: %w", err)
		}
		if len(byModel) > 0 {
			fmt.Println()
			printModelCost(byModel)
		}
		return nil
	},
}

const timeLayout = "2006-01-02 15:04:05"

func rule(width int) {
	fmt.Println(theme.Hint.Render(strings.Repeat("─", width)))
}

func printPurposeUsage(rows []store.LLMPurposeUsage) {
	const row = "%-18v  %6v  %6v  %10v  %10v  %8v\n"
	fmt.Println(theme.Title.Render("Usage by purpose"))
	fmt.Printf(row, "Purpose", "Calls", "Failed", "Input", "Output", "Avg ms")
	rule(70)

	var calls, failed, in, out int
	for _, u := range rows {
		fmt.Printf(row, truncate(u.Purpose, 18), u.Calls, u.Failures, u.InputTokens, u.OutputTokens, u.AvgLatencyMs)
		calls += u.Calls
		failed += u.Failures
		in += u.InputTokens
		out += u.OutputTokens
	}
	rule(70)
	fmt.Printf(row, "total", calls, failed, in, out, "")
}

func printModelCost(rows []store.LLMModelUsage) {
	const row = "%-32v  %6v  %10v  %10v  %10v\n"
	fmt.Println(theme.Title.Render("Estimated cost (USD)"))
	fmt.Printf(row, "Model", "Calls", "Input", "Output", "Cost")
	rule(76)

	var total float64
	var unpriced []string
	for _, u := range rows {
		cost := "?"
		if price := llm.LookupCost(u.Model); price != nil {
			usd := price.Cost(u.InputTokens, u.OutputTokens)
			total += usd
			cost = formatUSD(usd)
		} else {
			unpriced = append(unpriced, u.Model)
		}
		fmt.Printf(row, truncate(u.Model, 32), u.Calls, u.InputTokens, u.OutputTokens, cost)
	}
	rule(76)
	label := "total"
	if len(unpriced) > 0 {
		label = "total (priced models only)"
	}
	fmt.Printf(row, label, "", "", "", formatUSD(total))
	if len(unpriced) > 0 {
		fmt.Println(theme.Hint.Render("no pricing for " + strings.Join(unpriced, ", ")))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func formatUSD(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	f := llmListCmd.Flags()
	f.IntP("limit", "n", 20, "Number of calls to show")
	f.StringP("purpose", "p", "", "Only calls with this purpose (classify, respond-explain, critic, preference, ...)")
	f.StringP("session", "s", "", "Only calls made for this tutoring session")
	f.Bool("failed", false, "Only calls that failed")
	llmViewCmd.Flags().Bool("json", false, "Print the event as JSON")

	llmCmd.AddCommand(llmListCmd, llmViewCmd, llmStatsCmd)
}
