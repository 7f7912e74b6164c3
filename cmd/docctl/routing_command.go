package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

func newRoutingCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routing",
		Short: "Manage routing rules",
	}
	cmd.AddCommand(newRoutingAddCommand(ctx))
	cmd.AddCommand(newRoutingListCommand(ctx))
	cmd.AddCommand(newRoutingToggleCommand(ctx, true))
	cmd.AddCommand(newRoutingToggleCommand(ctx, false))
	cmd.AddCommand(newRoutingDeleteCommand(ctx))
	return cmd
}

func newRoutingAddCommand(ctx *commandContext) *cobra.Command {
	var (
		docType    string
		kind       string
		value      string
		conditions []string
		disabled   bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a routing rule for a document type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseConditions(conditions)
			if err != nil {
				return err
			}
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				rule, err := admin.AddRoutingRule(cmd.Context(), domain.RoutingRule{
					DocType:          docType,
					DestinationKind:  domain.DestinationKind(kind),
					DestinationValue: value,
					Conditions:       parsed,
					Enabled:          !disabled,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Routing rule %s created (%s -> %s %s)\n",
					rule.ID, rule.DocType, rule.DestinationKind, rule.DestinationValue)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&docType, "doc-type", "", "Document type the rule applies to")
	cmd.Flags().StringVar(&kind, "kind", "folder", "Destination kind: folder, object-store or external-api")
	cmd.Flags().StringVar(&value, "value", "", "Folder path, bucket/prefix or URL")
	cmd.Flags().StringArrayVar(&conditions, "condition", nil, "Condition such as credibility_score>=0.7 (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the rule disabled")
	return cmd
}

func newRoutingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List routing rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				rules, err := admin.ListRoutingRules(cmd.Context())
				if err != nil {
					return err
				}
				if len(rules) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No routing rules")
					return nil
				}
				rows := make([][]string, 0, len(rules))
				for _, rule := range rules {
					rows = append(rows, []string{
						rule.ID,
						rule.DocType,
						string(rule.DestinationKind),
						rule.DestinationValue,
						formatConditions(rule.Conditions),
						strconv.FormatBool(rule.Enabled),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Doc Type", "Kind", "Destination", "Conditions", "Enabled"}, rows))
				return nil
			})
		},
	}
}

func newRoutingToggleCommand(ctx *commandContext, enabled bool) *cobra.Command {
	use, short, verb := "disable <rule-id>", "Disable a routing rule", "disabled"
	if enabled {
		use, short, verb = "enable <rule-id>", "Enable a routing rule", "enabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				if err := admin.SetRoutingRuleEnabled(cmd.Context(), args[0], enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Routing rule %s %s\n", args[0], verb)
				return nil
			})
		},
	}
}

func newRoutingDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAdmin(cmd.Context(), func(admin ports.RuleAdmin) error {
				if err := admin.RemoveRoutingRule(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Routing rule %s deleted\n", args[0])
				return nil
			})
		},
	}
}

var conditionOperators = []string{">=", "<=", "==", "!=", ">", "<"}

// parseConditions reads "attribute<op>value" expressions.
func parseConditions(raw []string) (domain.RuleConditions, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(domain.RuleConditions, len(raw))
	for _, expr := range raw {
		attr, op, operand, ok := splitCondition(expr)
		if !ok {
			return nil, fmt.Errorf("invalid condition %q: expected attribute<op>number", expr)
		}
		value, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid condition %q: %w", expr, err)
		}
		if out[attr] == nil {
			out[attr] = make(map[string]float64)
		}
		out[attr][op] = value
	}
	return out, out.Validate()
}

func splitCondition(expr string) (string, string, string, bool) {
	expr = strings.TrimSpace(expr)
	for _, op := range conditionOperators {
		if attr, operand, found := strings.Cut(expr, op); found {
			attr = strings.TrimSpace(attr)
			operand = strings.TrimSpace(operand)
			if attr == "" || operand == "" {
				return "", "", "", false
			}
			return attr, op, operand, true
		}
	}
	return "", "", "", false
}

func formatConditions(conds domain.RuleConditions) string {
	parts := make([]string, 0, len(conds))
	for attr, ops := range conds {
		for op, value := range ops {
			parts = append(parts, attr+op+strconv.FormatFloat(value, 'f', -1, 64))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
