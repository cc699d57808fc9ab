package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mtappler/focusgate/internal/api"
	"github.com/mtappler/focusgate/internal/config"
	"github.com/mtappler/focusgate/internal/detector"
	"github.com/mtappler/focusgate/internal/enforce"
	"github.com/mtappler/focusgate/internal/events"
	"github.com/mtappler/focusgate/internal/limits"
	"github.com/mtappler/focusgate/internal/override"
	"github.com/mtappler/focusgate/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkDay  string
	checkTime string
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] URL",
	Short: "Check the limit decision for a URL",
	Long:  `Check whether FocusGate would allow or block a navigation to the given URL, using the configured sites, today's recorded usage, and any granted extensions.`,
	Example: `  focusgate -c config.yaml check https://www.youtube.com/watch
  focusgate check --day saturday --time 14:30 https://reddit.com/r/golang`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "Day of week (monday, tuesday, etc.) - defaults to current day")
	checkCmd.Flags().StringVar(&checkTime, "time", "", "Time of day (HH:MM) - defaults to current time")
	rootCmd.AddCommand(checkCmd)
}

// fixedClock pins evaluation to a chosen instant for check mode.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func runCheck(cmd *cobra.Command, args []string) error {
	rawURL := args[0]

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Host == "" {
		return fmt.Errorf("invalid URL: %s", rawURL)
	}

	// Resolve the evaluation time
	checkDateTime := time.Now()
	if checkDay != "" || checkTime != "" {
		checkDateTime, err = parseCheckTime(checkDay, checkTime)
		if err != nil {
			return fmt.Errorf("invalid time specification: %w", err)
		}
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	clock := &fixedClock{now: checkDateTime}

	det := detector.New(store.Sites(), store.Groups(), logger)
	if err := det.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load detection tables: %w", err)
	}

	var overrides *override.Engine
	if cfg.Overrides.PolicyDir != "" {
		overrides, err = override.NewEngine(cfg.Overrides.PolicyDir, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize override engine: %w", err)
		}
	}

	tracker := session.NewTracker(store.Usage(), store.Session(), clock, session.Config{}, logger)
	bus := events.NewBus(logger)
	queue := api.NewCommandQueue(logger)

	orch := enforce.NewOrchestrator(det, tracker, store, overrides, queue, bus, clock, enforce.Config{
		BlockPageURL:      cfg.API.BlockPageURL(),
		RestoredNotifyCap: cfg.Tracking.RestoredNotifyCap,
	}, logger)

	decision := orch.Evaluate(ctx, rawURL)

	printCheckResult(parsedURL, checkDateTime, decision)

	return nil
}

// parseCheckTime builds an evaluation instant from optional day and time flags
func parseCheckTime(day, timeOfDay string) (time.Time, error) {
	result := time.Now()

	if timeOfDay != "" {
		parsed, err := time.Parse("15:04", timeOfDay)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q (want HH:MM)", timeOfDay)
		}
		result = time.Date(result.Year(), result.Month(), result.Day(),
			parsed.Hour(), parsed.Minute(), 0, 0, result.Location())
	}

	if day != "" {
		target, err := parseWeekday(day)
		if err != nil {
			return time.Time{}, err
		}
		for result.Weekday() != target {
			result = result.AddDate(0, 0, 1)
		}
	}

	return result, nil
}

func parseWeekday(day string) (time.Weekday, error) {
	switch strings.ToLower(day) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("invalid day of week: %s", day)
}

// printCheckResult prints the limit decision with colors
func printCheckResult(parsedURL *url.URL, checkDateTime time.Time, decision limits.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("LIMIT CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:       %s\n", parsedURL)
	fmt.Printf("Hostname:  %s\n", parsedURL.Hostname())
	fmt.Printf("Time:      %s (%s)\n", checkDateTime.Format("2006-01-02 15:04"), checkDateTime.Weekday())
	fmt.Println()

	if decision.SiteID == "" {
		cyan.Print("Decision:  ")
		green.Println("NOT TRACKED")
		fmt.Println("           → URL matches no enabled site pattern")
		fmt.Println("           → Navigation proceeds without tracking")
		fmt.Println()
		return
	}

	fmt.Printf("Site:      %s\n", decision.SiteID)
	if decision.GroupID != "" {
		fmt.Printf("Group:     %s (group limits apply)\n", decision.GroupID)
	}
	fmt.Println()

	cyan.Print("Decision:  ")
	if decision.ShouldBlock {
		red.Println("BLOCK")
		fmt.Printf("           → %s\n", decision.Reason)
		fmt.Printf("           → Limit type: %s\n", decision.LimitType)
		fmt.Println("           → Browser tab would be redirected to the block page")
	} else {
		green.Println("ALLOW")
		fmt.Println("           → Navigation proceeds and usage is tracked")
		if decision.RemainingSeconds != limits.NoLimit {
			fmt.Printf("           → Time remaining today: %s\n", formatSeconds(decision.RemainingSeconds))
		}
		if decision.RemainingOpens != limits.NoLimit {
			fmt.Printf("           → Opens remaining today: %d\n", decision.RemainingOpens)
		}
	}
	fmt.Println()
}

func formatSeconds(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", seconds)
}
