// Package jobs runs the periodic background jobs of the api.
package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/schedule"
)

const auditTimeout = time.Minute

// OrphanFinder lists the recurrence chains left without an open instance.
type OrphanFinder interface {
	OrphanedChains(ctx context.Context) ([]schedule.Schedule, error)
}

// ChainAudit reports recurrence chains a failed regeneration left without an open instance.
// It only reports: chains are regenerated by an operator.
type ChainAudit struct {
	finder  OrphanFinder
	mailSvc core.EmailService
	logger  core.Logger
	to      []mail.Address
}

func NewChainAudit(finder OrphanFinder, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *ChainAudit {
	return &ChainAudit{finder: finder, mailSvc: mailSvc, logger: logger, to: conf.OpsEmails}
}

// Run audits the chains once and returns the orphaned ones.
func (a *ChainAudit) Run(ctx context.Context) ([]schedule.Schedule, error) {
	orphans, err := a.finder.OrphanedChains(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying orphaned chains")
	}
	if len(orphans) == 0 {
		return orphans, nil
	}

	a.logger.Warn(fmt.Sprintf("%d recurrence chain(s) without an open instance", len(orphans)))
	if len(a.to) > 0 {
		msg := &core.EmailMessage{
			To:      a.to,
			Subject: fmt.Sprintf("%d recurring class(es) need regeneration", len(orphans)),
			Body:    report(orphans),
		}
		sheet, err := reportCSV(orphans)
		if err != nil {
			return orphans, err
		}
		if err = msg.Attach(sheet, OrphansFilename, "text/csv"); err != nil {
			return orphans, errors.Wrap(err, "attaching report")
		}
		a.mailSvc.SendMessages(msg)
	}
	return orphans, nil
}

// OrphansFilename is the name of the CSV attached to the audit email.
const OrphansFilename = "orphaned_chains.csv"

var reportHeader = []string{"chain_id", "schedule_id", "teacher_id", "subject_id", "class_date", "start_time", "end_time", "session_status"}

// reportCSV lists the orphans one row per chain, for spreadsheets.
func reportCSV(orphans []schedule.Schedule) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	rows := make([][]string, 0, len(orphans)+1)
	rows = append(rows, reportHeader)
	for _, s := range orphans {
		rows = append(rows, []string{
			s.RecurrenceChainID, s.ID, s.TeacherID, s.SubjectID,
			s.ClassDate.String(), s.StartTime.String(), s.EndTime.String(), string(s.SessionStatus),
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, errors.Wrap(err, "writing csv report")
	}
	return buf, nil
}

func report(orphans []schedule.Schedule) string {
	var b strings.Builder
	b.WriteString("The following recurrence chains have no upcoming class:\n\n")
	for _, s := range orphans {
		fmt.Fprintf(&b, "- chain %s: last class %s on %s %s-%s (%s), teacher %s\n",
			s.RecurrenceChainID, s.ID, s.ClassDate, s.StartTime, s.EndTime, s.SessionStatus, s.TeacherID)
	}
	b.WriteString("\nRegenerate each with: admin regenerate -chain CHAIN_ID\n")
	return b.String()
}

// Scheduler wraps the cron runner of the background jobs.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers the chain audit on `spec` (standard cron spec or descriptor like "@hourly").
// An empty spec registers nothing.
func NewScheduler(spec string, audit *ChainAudit, logger core.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if spec != "" {
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			if _, err := audit.Run(ctx); err != nil {
				logger.Error(fmt.Sprintf("chain audit: %v", err), err)
			}
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scheduling chain audit %q", spec)
		}
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
