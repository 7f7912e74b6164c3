package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

func newRulesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage keyword classification rules",
	}
	cmd.AddCommand(newRulesAddCommand(ctx))
	cmd.AddCommand(newRulesRemoveCommand(ctx))
	cmd.AddCommand(newRulesListCommand(ctx))
	cmd.AddCommand(newRulesImportCommand(ctx))
	return cmd
}

func newRulesAddCommand(ctx *commandContext) *cobra.Command {
	var createdBy string
	cmd := &cobra.Command{
		Use:   "add <keyword> <category>",
		Short: "Add or replace a keyword rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				rule, err := admin.AddRule(cmd.Context(), args[0], args[1], createdBy)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rule %q -> %s saved\n", rule.Keyword, rule.Category)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&createdBy, "created-by", "docctl", "Author recorded on the rule")
	return cmd
}

func newRulesRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <keyword>",
		Short: "Remove a keyword rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				if err := admin.RemoveRule(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rule %q removed\n", domain.NormalizeKeyword(args[0]))
				return nil
			})
		},
	}
}

func newRulesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keyword rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				rules, err := admin.ListRules(cmd.Context())
				if err != nil {
					return err
				}
				if len(rules) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stored rules")
					return nil
				}
				rows := make([][]string, 0, len(rules))
				for _, rule := range rules {
					rows = append(rows, []string{rule.Keyword, rule.Category, rule.CreatedBy})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Keyword", "Category", "Created By"}, rows))
				return nil
			})
		},
	}
}

func newRulesImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import classification and routing rules from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadRuleSet(args[0])
			if err != nil {
				return err
			}
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				summary, err := applyRuleSet(cmd.Context(), admin, set)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d keyword rules, %d routing rules (%d skipped as duplicates)\n",
					summary.keywordRules, summary.routingRules, summary.skipped)
				return nil
			})
		},
	}
}
