package cli

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dyike/CortexFlow/consts"
	"github.com/dyike/CortexFlow/internal/service"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9.^-]+$`)

func validateTicker(val any) error {
	str := strings.TrimSpace(strings.ToUpper(fmt.Sprint(val)))
	if len(str) == 0 {
		return fmt.Errorf("ticker symbol cannot be empty")
	}
	if len(str) > 12 {
		return fmt.Errorf("ticker symbol too long (max 12 characters)")
	}
	if !tickerPattern.MatchString(str) {
		return fmt.Errorf("invalid ticker format (use letters, numbers, dots, and hyphens only)")
	}
	return nil
}

// PromptForTicker prompts the user to enter a stock ticker symbol
func PromptForTicker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, 0700.HK, 600519.SH):",
		Help:    "Please enter a valid stock ticker symbol for analysis",
	}
	if err := survey.AskOne(prompt, &ticker, survey.WithValidator(validateTicker)); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ToUpper(ticker)), nil
}

// PromptForAnalysisDate prompts the user to enter an analysis date
func PromptForAnalysisDate() (time.Time, error) {
	var dateStr string
	prompt := &survey.Input{
		Message: "Enter the analysis date (YYYY-MM-DD):",
		Help:    "Format: YYYY-MM-DD (e.g., 2024-01-15)",
		Default: time.Now().Format(time.DateOnly),
	}

	err := survey.AskOne(prompt, &dateStr, survey.WithValidator(func(val any) error {
		parsed, err := time.Parse(time.DateOnly, strings.TrimSpace(fmt.Sprint(val)))
		if err != nil {
			return fmt.Errorf("invalid date format, use YYYY-MM-DD")
		}
		if parsed.After(time.Now().AddDate(0, 0, 1)) {
			return fmt.Errorf("analysis date cannot be more than 1 day in the future")
		}
		return nil
	}))
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.DateOnly, strings.TrimSpace(dateStr))
}

// PromptForAnalysts lets the user pick the analyst team; the result is node ids in
// pipeline order.
func PromptForAnalysts() ([]string, error) {
	options := make([]string, len(consts.Analysts))
	byName := make(map[string]string, len(consts.Analysts))
	for i, a := range consts.Analysts {
		options[i] = consts.AgentNames[a]
		byName[options[i]] = a
	}

	var selected []string
	prompt := &survey.MultiSelect{
		Message: "Select analyst team members:",
		Options: options,
		Help:    "Use space to select, enter to confirm.",
		Default: options,
	}
	err := survey.AskOne(prompt, &selected, survey.WithValidator(func(val any) error {
		if list, ok := val.([]survey.OptionAnswer); ok && len(list) == 0 {
			return fmt.Errorf("you must select at least one analyst")
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(selected))
	for _, a := range consts.Analysts {
		for _, name := range selected {
			if byName[name] == a {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

var depthOptions = []string{
	"1 - Quick",
	"2 - Basic",
	"3 - Standard",
	"4 - Deep",
	"5 - Full",
}

// PromptForResearchDepth asks for a depth level between 1 and 5.
func PromptForResearchDepth() (int, error) {
	var choice int
	prompt := &survey.Select{
		Message: "Select research depth:",
		Options: depthOptions,
		Default: depthOptions[consts.DepthStandard-1],
		Help:    "Deeper research takes longer",
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return 0, err
	}
	return choice + 1, nil
}

// PromptForProviderSpeed asks how fast the model backend is expected to answer.
func PromptForProviderSpeed() (string, error) {
	var speed string
	prompt := &survey.Select{
		Message: "How fast is your LLM provider?",
		Options: []string{consts.SpeedFast, consts.SpeedNormal, consts.SpeedSlow},
		Default: consts.SpeedNormal,
		Help:    "Only used to estimate the remaining time",
	}
	if err := survey.AskOne(prompt, &speed); err != nil {
		return "", err
	}
	return speed, nil
}

// PromptForRequest fills every field of req the user has not given on the command line.
func PromptForRequest(req service.JobRequest) (service.JobRequest, error) {
	var err error
	if req.Symbol == "" {
		if req.Symbol, err = PromptForTicker(); err != nil {
			return req, err
		}
	}
	if req.TradeDate.IsZero() {
		if req.TradeDate, err = PromptForAnalysisDate(); err != nil {
			return req, err
		}
	}
	if len(req.SelectedAnalysts) == 0 {
		if req.SelectedAnalysts, err = PromptForAnalysts(); err != nil {
			return req, err
		}
	}
	if req.ResearchDepth == 0 {
		if req.ResearchDepth, err = PromptForResearchDepth(); err != nil {
			return req, err
		}
	}
	if req.ProviderSpeed == "" {
		if req.ProviderSpeed, err = PromptForProviderSpeed(); err != nil {
			return req, err
		}
	}
	return req, nil
}
