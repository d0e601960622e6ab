// Package cli implements the alcaldiactl administration commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/diazhh/alcaldia-saas/internal/rbac"
	"github.com/diazhh/alcaldia-saas/internal/seed"
)

// JobEnqueuer submits background tasks.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Runtime holds the services the commands operate on.
type Runtime struct {
	Seeder      *seed.Seeder
	Assignments *rbac.AssignmentService
	Authorizer  *rbac.Authorizer
	Jobs        JobEnqueuer
	Close       func() error
}

// Opener builds a Runtime on first use so --help never touches the database.
type Opener func(ctx context.Context) (*Runtime, error)

type session struct {
	open    Opener
	runtime *Runtime
}

func (s *session) get(ctx context.Context) (*Runtime, error) {
	if s.runtime != nil {
		return s.runtime, nil
	}
	if s.open == nil {
		return nil, errors.New("alcaldiactl: runtime not configured")
	}
	rt, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.runtime = rt
	return rt, nil
}

func (s *session) close() error {
	if s.runtime == nil || s.runtime.Close == nil {
		return nil
	}
	return s.runtime.Close()
}

// NewRootCommand assembles the command tree.
func NewRootCommand(open Opener) *cobra.Command {
	s := &session{open: open}
	root := &cobra.Command{
		Use:           "alcaldiactl",
		Short:         "Administration tool for municipal roles and permissions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.close()
		},
	}
	root.AddCommand(
		newSeedCommand(s),
		newAssignCommand(s),
		newRevokeCommand(s),
		newPermissionsCommand(s),
		newCanCommand(s),
		newJobsCommand(s),
	)
	return root
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}
