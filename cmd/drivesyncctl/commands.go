package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"drivesync/application"
	"drivesync/domain/drive"
	"drivesync/domain/jobs"
	"drivesync/domain/tenant"
	"drivesync/interfaces/web/presenters"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <tenant> <site> <drive>",
		Short: "Register a drive and run its initial full crawl",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := drive.DriveScope{TenantID: args[0], SiteID: args[1], DriveID: args[2]}
			return withSession(func(ctx context.Context, s *session) error {
				job, err := s.engine.TenantService.RegisterDrive(ctx, scope, jobs.TriggerManual)
				if err != nil {
					return err
				}
				return reportJobs(ctx, s, job)
			})
		},
	}
}

func registerSiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-site <tenant> <site>",
		Short: "Register every drive of a site",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				scopes, err := s.engine.TenantService.RegisterSite(ctx, args[0], args[1], jobs.TriggerManual)
				if len(scopes) == 0 && err != nil {
					return err
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "Some drives failed to register: %v\n", err)
				}
				fmt.Fprintf(os.Stderr, "Registered %d drives\n", len(scopes))

				s.drain(ctx)
				return printDrives(ctx, s, args[0])
			})
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <tenant> <site> <drive>",
		Short: "Run a pass for a registered drive",
		Long:  "Runs the pass the drive's checkpoint calls for: a resumed full crawl or a delta pass.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := drive.DriveScope{TenantID: args[0], SiteID: args[1], DriveID: args[2]}
			if err := scope.Validate(); err != nil {
				return err
			}
			return withSession(func(ctx context.Context, s *session) error {
				job, err := s.engine.Coordinator.TriggerPass(ctx, scope, jobs.TriggerManual)
				if err != nil {
					return err
				}
				return reportJobs(ctx, s, job)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [tenant]",
		Short: "Show tenants, or the drives of one tenant",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noWait = true
			return withSession(func(ctx context.Context, s *session) error {
				if len(args) == 1 {
					return printDrives(ctx, s, args[0])
				}
				list, err := s.engine.TenantService.ListTenants(ctx)
				if err != nil {
					return err
				}
				return newOutput(os.Stdout).tenants(presenters.NewDrivePresenter().FormatTenants(list))
			})
		},
	}
}

func renewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renew [tenant...]",
		Short: "Renew subscriptions that are close to expiry",
		Long:  "Runs a renewal job for each named tenant, or for every active tenant.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, s *session) error {
				tenantIDs := args
				if len(tenantIDs) == 0 {
					list, err := s.engine.Tenants.List(ctx)
					if err != nil {
						return err
					}
					for _, t := range list {
						if t.Status == tenant.StatusActive {
							tenantIDs = append(tenantIDs, t.ID)
						}
					}
				}

				started := make([]*jobs.Job, 0, len(tenantIDs))
				var errs []error
				for _, tenantID := range tenantIDs {
					job, err := s.engine.Coordinator.RunTenantJob(ctx, tenantID, jobs.JobTypeSubscriptionRenewal, jobs.TriggerManual)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", tenantID, err))
						continue
					}
					started = append(started, job)
				}
				if err := reportJobs(ctx, s, started...); err != nil {
					errs = append(errs, err)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func uninstallCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "uninstall <tenant>",
		Short: "Delete a tenant's subscriptions, checkpoints and record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("uninstall removes every checkpoint of %s; pass --yes to confirm", args[0])
			}
			return withSession(func(ctx context.Context, s *session) error {
				job, err := s.engine.TenantService.Uninstall(ctx, args[0])
				if err != nil {
					return err
				}
				return reportJobs(ctx, s, job)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the uninstall")
	return cmd
}

func jobsCmd() *cobra.Command {
	var (
		jobType string
		status  string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noWait = true
			return withSession(func(ctx context.Context, s *session) error {
				list, err := s.engine.Coordinator.ListJobs(ctx, application.JobFilter{
					Type:   jobs.JobType(jobType),
					Status: jobs.JobStatus(status),
				})
				if err != nil {
					return err
				}
				if limit > 0 && len(list) > limit {
					list = list[:limit]
				}
				return newOutput(os.Stdout).jobs(presenters.NewJobPresenter().FormatJobList(list).Jobs)
			})
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "", "only jobs of this type")
	cmd.Flags().StringVar(&status, "status", "", "only jobs in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many jobs (0 for all)")
	return cmd
}

// reportJobs waits for the started jobs and prints their final state. A failed job makes
// the command fail.
func reportJobs(ctx context.Context, s *session, started ...*jobs.Job) error {
	s.drain(ctx)

	presenter := presenters.NewJobPresenter()
	views := make([]*presenters.JobStatusView, 0, len(started))
	var failed []string
	for _, job := range started {
		latest, err := s.engine.Coordinator.GetJob(ctx, job.ID)
		if err != nil || latest == nil {
			latest = job
		}
		if latest.Status == jobs.JobStatusFailed {
			failed = append(failed, latest.ID)
		}
		views = append(views, presenter.FormatJobStatus(latest))
	}

	if err := newOutput(os.Stdout).jobs(views); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d job(s) failed: %v", len(failed), failed)
	}
	return nil
}

func printDrives(ctx context.Context, s *session, tenantID string) error {
	t, err := s.engine.TenantService.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	states, err := s.engine.TenantService.ListDrives(ctx, tenantID)
	if err != nil {
		return err
	}
	if t == nil && len(states) == 0 {
		return fmt.Errorf("tenant %s is not registered", tenantID)
	}
	view := presenters.NewDrivePresenter().FormatDriveList(t, tenantID, states, s.engine.Coordinator.IsRunning)
	return newOutput(os.Stdout).drives(view)
}
