package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"muse/internal/app"
	"muse/internal/config"
)

const approvalTimeout = 60 * time.Second

func newAskCommand(configPath *string) *cobra.Command {
	var userID string
	var yes bool

	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Run the full pipeline for one message, with a terminal confirmation prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runAsk(cfg, strings.Join(args, " "), userID, yes)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user id for quota accounting")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm without prompting")
	return cmd
}

func runAsk(cfg *config.Config, text, userID string, autoConfirm bool) error {
	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}
	defer a.Close()

	suggestion := a.Detector.Detect(text)
	if suggestion == nil {
		fmt.Println(yellow("no agent matches this message"))
		return nil
	}

	fmt.Printf("%s %s (confidence %.2f)\n", bold("suggested agent:"), green(string(suggestion.AgentType)), suggestion.Confidence)
	fmt.Printf("%s %s\n", bold("reasoning:"), suggestion.Reasoning)

	state := a.Controller.Suggest("cli", "cli-message", userID, *suggestion)
	if !autoConfirm && !promptApproval() {
		if err := a.Controller.Cancel(state.SuggestionID); err != nil {
			return err
		}
		fmt.Println(red("cancelled"))
		return nil
	}

	jobID, err := a.Controller.Confirm(context.Background(), state.SuggestionID)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", bold("job:"), cyan(jobID))
	a.Controller.Wait()

	final, ok := a.Controller.Get(state.SuggestionID)
	if !ok {
		return fmt.Errorf("job state lost for %s", jobID)
	}
	if final.FailureReason != "" {
		return fmt.Errorf("job failed: %s", final.FailureReason)
	}
	fmt.Printf("%s %s\n", bold("artifact:"), green(final.DurableURL))
	fmt.Printf("%s message=%s material=%s\n", bold("persisted:"), final.ChatMessageID, final.LibraryMaterialID)
	return nil
}

// promptApproval asks for y/n on the terminal; timeout counts as no.
func promptApproval() bool {
	fmt.Printf("%s [y/N]: ", bold("run this agent?"))

	answerCh := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		input, err := reader.ReadString('\n')
		if err != nil {
			answerCh <- ""
			return
		}
		answerCh <- strings.TrimSpace(strings.ToLower(input))
	}()

	select {
	case answer := <-answerCh:
		return answer == "y" || answer == "yes"
	case <-time.After(approvalTimeout):
		fmt.Println()
		fmt.Println(red("timeout, not confirmed"))
		return false
	}
}
