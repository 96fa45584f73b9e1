package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRetrainCommand() *cobra.Command {
	var force, wait bool
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Run the training pipeline",
		Long: `Starts a training run on the server. Without --wait the run happens in
the background and a second request while it runs is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if force {
				params.Set("force", "true")
			}
			if wait {
				params.Set("wait", "true")
			}
			data, err := newClient().post("/admin/retrain", params, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Retrain even when the active models are fresh")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run and print its report")
	return cmd
}

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the active version and metrics of every model family",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/admin/models", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func newTemplatesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage the message template catalogue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every template",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/admin/templates", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert templates from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := loadTemplates(args[0])
			if err != nil {
				return err
			}
			data, err := newClient().post("/admin/templates", nil, map[string]interface{}{"templates": tpls})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})

	for _, action := range []string{"activate", "deactivate"} {
		action := action
		cmd.AddCommand(&cobra.Command{
			Use:   action + " <template_id>",
			Short: strings.ToUpper(action[:1]) + action[1:] + " a template",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := newClient().post("/admin/templates/"+url.PathEscape(args[0])+"/"+action, nil, nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		})
	}
	return cmd
}

// loadTemplates reads either a bare list or a {templates: [...]} document.
// YAML is a superset of JSON, so one decoder serves both.
func loadTemplates(path string) ([]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	switch v := doc.(type) {
	case []interface{}:
		if len(v) > 0 {
			return v, nil
		}
	case map[string]interface{}:
		if list, ok := v["templates"].([]interface{}); ok && len(list) > 0 {
			return list, nil
		}
	}
	return nil, fmt.Errorf("%s: no templates found", path)
}

func newWarmCommand() *cobra.Command {
	var users []string
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Precompute predictions for users",
		Long: `With --user the listed users are warmed inline. Without, the server
starts the warm job over all active users.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body interface{}
			if len(users) > 0 {
				body = map[string]interface{}{"user_ids": users}
			}
			data, err := newClient().post("/admin/cache/warm", nil, body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringSliceVar(&users, "user", nil, "User id to warm (repeatable)")
	return cmd
}

func newCleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete coaching messages older than N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be positive")
			}
			params := url.Values{"days": {strconv.Itoa(days)}}
			data, err := newClient().post("/admin/cleanup", params, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "Retention in days")
	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/admin/jobs", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run <job>",
		Short: "Run a job now, ignoring its hour window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/admin/jobs/"+url.PathEscape(args[0])+"/run", nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})
	return cmd
}

func newPredictCommand() *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "predict <user_id>",
		Short: "Fetch a user's predictions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if len(types) > 0 {
				params.Set("types", strings.Join(types, ","))
			}
			data, err := newClient().get("/users/"+url.PathEscape(args[0])+"/predictions", params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Prediction type (repeatable, default all)")
	return cmd
}
