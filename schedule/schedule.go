// Package schedule sends cron-driven announcements through a OneBot client.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Job posts Message to a group or a user whenever Cron is due. Exactly one of
// GroupID and UserID is set.
type Job struct {
	Name    string `yaml:"name"`
	Cron    string `yaml:"cron"`
	GroupID int64  `yaml:"group_id"`
	UserID  int64  `yaml:"user_id"`
	Message string `yaml:"message"`
}

func (j Job) Validate() error {
	if j.Name == "" {
		return errors.New("schedule: job without a name")
	}
	if !gronx.New().IsValid(j.Cron) {
		return fmt.Errorf("schedule %q: invalid cron expression %q", j.Name, j.Cron)
	}
	if (j.GroupID == 0) == (j.UserID == 0) {
		return fmt.Errorf("schedule %q: set exactly one of group_id and user_id", j.Name)
	}
	if j.Message == "" {
		return fmt.Errorf("schedule %q: empty message", j.Name)
	}
	return nil
}

// Sender is the part of *onebot.Client the scheduler needs.
type Sender interface {
	SendGroupMsg(ctx context.Context, groupID int64, message string, autoEscape bool) int64
	SendPrivateMsg(ctx context.Context, userID int64, message string, autoEscape bool) int64
}

type Scheduler struct {
	sender Sender
	jobs   []Job
}

func New(sender Sender, jobs []Job) (*Scheduler, error) {
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return nil, err
		}
	}
	return &Scheduler{sender: sender, jobs: jobs}, nil
}

func (s *Scheduler) Len() int { return len(s.jobs) }

// Due returns the jobs whose cron expression matches the minute containing t.
func (s *Scheduler) Due(t time.Time) []Job {
	ref := t.Truncate(time.Minute)
	g := gronx.New()

	var due []Job
	for _, j := range s.jobs {
		ok, err := g.IsDue(j.Cron, ref)
		if err != nil {
			slog.Warn("schedule: cron check failed", "job", j.Name, "err", err)
			continue
		}
		if ok {
			due = append(due, j)
		}
	}
	return due
}

// Run fires due jobs at the start of every minute until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		<-ctx.Done()
		return nil
	}
	slog.Info("schedule: started", "jobs", len(s.jobs))

	timer := time.NewTimer(untilNextMinute(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-timer.C:
			s.fire(ctx, now)
			timer.Reset(untilNextMinute(time.Now()))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, now time.Time) int {
	sent := 0
	for _, j := range s.Due(now) {
		var id int64
		if j.GroupID != 0 {
			id = s.sender.SendGroupMsg(ctx, j.GroupID, j.Message, false)
		} else {
			id = s.sender.SendPrivateMsg(ctx, j.UserID, j.Message, false)
		}
		if id < 0 {
			slog.Warn("schedule: send failed", "job", j.Name)
			continue
		}
		slog.Info("schedule: sent", "job", j.Name, "messageID", id)
		sent++
	}
	return sent
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
