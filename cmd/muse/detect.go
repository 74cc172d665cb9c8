package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"muse/internal/agents"
	"muse/internal/config"
	"muse/internal/intent"
)

func newDetectCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <text>",
		Short: "Score a chat message against the agent keyword tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := agents.DefaultCatalog()
			if *configPath != "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				if cfg.CatalogPath != "" {
					catalog, err = agents.LoadCatalog(cfg.CatalogPath)
					if err != nil {
						return err
					}
				}
			}

			text := strings.Join(args, " ")
			suggestion := intent.NewDetector(catalog).Detect(text)
			if suggestion == nil {
				fmt.Println(yellow("no suggestion"))
				return nil
			}
			fmt.Printf("%s %s\n", bold("agent:"), green(string(suggestion.AgentType)))
			fmt.Printf("%s %.2f\n", bold("confidence:"), suggestion.Confidence)
			fmt.Printf("%s %s\n", bold("reasoning:"), suggestion.Reasoning)
			return nil
		},
	}
}
