package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/seed"
	"github.com/diazhh/alcaldia-saas/jobs"
)

const demoPasswordEnv = "ALCALDIA_DEMO_PASSWORD"

func newSeedCommand(s *session) *cobra.Command {
	var opts seed.Options
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the permission catalog and optionally the demo roles and users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Demo && opts.DemoPassword == "" {
				opts.DemoPassword = os.Getenv(demoPasswordEnv)
			}
			rt, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			report, err := rt.Seeder.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd, report)
		},
	}
	cmd.Flags().BoolVar(&opts.Demo, "demo", false, "also create demo custom roles, users and assignments")
	cmd.Flags().StringVar(&opts.DemoPassword, "password", "", "password for new demo users (default $"+demoPasswordEnv+")")
	return cmd
}

func newAssignCommand(s *session) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "assign <user-id> <role-id>",
		Short: "Assign a custom role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0], "user-id")
			if err != nil {
				return err
			}
			roleID, err := parseID(args[1], "role-id")
			if err != nil {
				return err
			}
			rt, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := rt.Assignments.Assign(cmd.Context(), rbac.AssignInput{UserID: userID, RoleID: roleID, AssignedBy: actorID})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
	cmd.Flags().Int64Var(&actorID, "by", 0, "id of the user recorded as assigner")
	return cmd
}

func newRevokeCommand(s *session) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "revoke <user-id> <role-id>",
		Short: "Remove a custom role from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0], "user-id")
			if err != nil {
				return err
			}
			roleID, err := parseID(args[1], "role-id")
			if err != nil {
				return err
			}
			rt, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := rt.Assignments.Revoke(cmd.Context(), userID, roleID, actorID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
	cmd.Flags().Int64Var(&actorID, "by", 0, "id of the user recorded as revoker")
	return cmd
}

func newPermissionsCommand(s *session) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "permissions <user-id>",
		Short: "Print the effective permissions of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0], "user-id")
			if err != nil {
				return err
			}
			rt, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			res, err := rt.Authorizer.Resolve(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, res)
			}
			out := cmd.OutOrStdout()
			if !res.Found {
				fmt.Fprintf(out, "user %d not found or inactive\n", userID)
				return nil
			}
			fmt.Fprintf(out, "user %d role %s\n", userID, res.Role)
			for _, g := range res.Grants {
				sources := make([]string, 0, len(g.Sources))
				for _, src := range g.Sources {
					sources = append(sources, src.String())
				}
				fmt.Fprintf(out, "  %-40s %s\n", g.Permission.Name, strings.Join(sources, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolved set as JSON")
	return cmd
}

func newCanCommand(s *session) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "can <user-id> <permission>...",
		Short: "Check permissions of a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID(args[0], "user-id")
			if err != nil {
				return err
			}
			if mode != "any" && mode != "all" {
				return fmt.Errorf("mode must be any or all, got %q", mode)
			}
			rt, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			access, err := rt.Authorizer.Access(cmd.Context(), userID)
			if err != nil {
				return err
			}
			keys := args[1:]
			allowed := access.CanAny(keys...)
			if mode == "all" {
				allowed = access.CanAll(keys...)
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(out, "%-40s %s\n", k, verdict(access.CanKey(k)))
			}
			fmt.Fprintf(out, "%s: %s\n", mode, verdict(allowed))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "any", "any or all")
	return cmd
}

func newJobsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue " + jobs.TaskAuthzCacheWarmup + " or " + jobs.TaskAuthzIntegrityScan,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := jobs.TaskByName(args[0])
			if err != nil {
				return err
			}
			rt, err := s.get(cmd.Context())
			if err != nil {
				return err
			}
			info, err := rt.Jobs.Enqueue(cmd.Context(), task, asynq.MaxRetry(3))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	})
	return cmd
}

func verdict(ok bool) string {
	if ok {
		return "allowed"
	}
	return "denied"
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
