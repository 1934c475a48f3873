package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/store"
)

type StaffCreateOptions struct {
	Email   string
	Name    string
	Role    string
	ActorID string
}

func (e *Engine) AddStaff(ctx context.Context, opts StaffCreateOptions) (domain.Staff, error) {
	email := strings.ToLower(strings.TrimSpace(opts.Email))
	name := strings.TrimSpace(opts.Name)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Staff{}, invalidf("a valid email is required")
	}
	if name == "" {
		return domain.Staff{}, invalidf("name is required")
	}
	if _, err := e.Store.Get(ctx, store.Staff, email); err == nil {
		return domain.Staff{}, fmt.Errorf("staff %s: %w", email, ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Staff{}, err
	}
	s := domain.Staff{
		Email:            email,
		Name:             name,
		Role:             strings.TrimSpace(opts.Role),
		ReliabilityScore: 1,
		ProjectTags:      []string{},
		CreatedAt:        e.stamp(),
	}
	if _, err := e.Store.Append(ctx, store.Staff, s.Record()); err != nil {
		return domain.Staff{}, err
	}
	e.record(ctx, events.StaffCreated, "staff", email, opts.ActorID, events.EventPayload{"name": name})
	return s, nil
}

func (e *Engine) GetStaff(ctx context.Context, email string) (domain.Staff, error) {
	rec, err := e.Store.Get(ctx, store.Staff, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.Staff{}, err
	}
	return domain.StaffFromRecord(rec), nil
}

func (e *Engine) ListStaff(ctx context.Context, project string) ([]domain.Staff, error) {
	rows, err := e.Store.Find(ctx, store.Staff, func(r store.Record) bool {
		return project == "" || domain.ContainsFold(domain.SplitList(r[domain.FieldProjectTags]), project)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Staff, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.StaffFromRecord(r))
	}
	return out, nil
}

type ProjectCreateOptions struct {
	Tag     string
	Name    string
	ActorID string
}

func (e *Engine) AddProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	tag := strings.TrimSpace(opts.Tag)
	name := strings.TrimSpace(opts.Name)
	if tag == "" || strings.ContainsAny(tag, ", ") {
		return domain.Project{}, invalidf("project tag is required and must not contain spaces or commas")
	}
	if name == "" {
		return domain.Project{}, invalidf("project name is required")
	}
	if _, err := e.Store.Get(ctx, store.Projects, tag); err == nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", tag, ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Project{}, err
	}
	p := domain.Project{Tag: tag, Name: name, TeamMembers: []string{}, CreatedAt: e.stamp()}
	if _, err := e.Store.Append(ctx, store.Projects, p.Record()); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, events.ProjectCreated, "project", tag, opts.ActorID, events.EventPayload{"name": name})
	return p, nil
}

func (e *Engine) GetProject(ctx context.Context, tag string) (domain.Project, error) {
	rec, err := e.Store.Get(ctx, store.Projects, strings.TrimSpace(tag))
	if err != nil {
		return domain.Project{}, err
	}
	return domain.ProjectFromRecord(rec), nil
}

func (e *Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := e.Store.Find(ctx, store.Projects, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ProjectFromRecord(r))
	}
	return out, nil
}

// LinkStaffProject adds the project to the staff member and the member to the
// project's team in one batch. Linking twice is a no-op.
func (e *Engine) LinkStaffProject(ctx context.Context, email, tag, actorID string) (domain.Staff, domain.Project, error) {
	return e.setLink(ctx, email, tag, actorID, true)
}

// UnlinkStaffProject removes both sides of a staff-project link.
func (e *Engine) UnlinkStaffProject(ctx context.Context, email, tag, actorID string) (domain.Staff, domain.Project, error) {
	return e.setLink(ctx, email, tag, actorID, false)
}

func (e *Engine) setLink(ctx context.Context, email, tag, actorID string, link bool) (domain.Staff, domain.Project, error) {
	s, err := e.GetStaff(ctx, email)
	if err != nil {
		return domain.Staff{}, domain.Project{}, err
	}
	p, err := e.GetProject(ctx, tag)
	if err != nil {
		return domain.Staff{}, domain.Project{}, err
	}
	if link {
		s.ProjectTags = append(domain.RemoveFold(s.ProjectTags, p.Tag), p.Tag)
		p.TeamMembers = append(domain.RemoveFold(p.TeamMembers, s.Email), s.Email)
	} else {
		s.ProjectTags = domain.RemoveFold(s.ProjectTags, p.Tag)
		p.TeamMembers = domain.RemoveFold(p.TeamMembers, s.Email)
	}
	err = e.Store.Batch(ctx,
		store.Change{Coll: store.Staff, Key: s.Email, Fields: store.Record{domain.FieldProjectTags: domain.JoinList(s.ProjectTags)}},
		store.Change{Coll: store.Projects, Key: p.Tag, Fields: store.Record{domain.FieldTeamMembers: domain.JoinList(p.TeamMembers)}},
	)
	if err != nil {
		return domain.Staff{}, domain.Project{}, fmt.Errorf("link %s to %s: %w", s.Email, p.Tag, err)
	}
	evtType := events.StaffLinked
	if !link {
		evtType = events.StaffUnlinked
	}
	e.record(ctx, evtType, "staff", s.Email, actorID, events.EventPayload{"project_tag": p.Tag})
	if s, err = e.GetStaff(ctx, s.Email); err != nil {
		return domain.Staff{}, domain.Project{}, err
	}
	if p, err = e.GetProject(ctx, p.Tag); err != nil {
		return domain.Staff{}, domain.Project{}, err
	}
	return s, p, nil
}

// RefreshStaffStats recomputes active task counts and reliability scores from the
// task collection. Reliability is completed / (completed + overdue open), 1.0 when
// a member has neither.
func (e *Engine) RefreshStaffStats(ctx context.Context) ([]domain.Staff, error) {
	tasks, err := e.Store.Find(ctx, store.Tasks, nil)
	if err != nil {
		return nil, err
	}
	today := e.now().UTC().Format("2006-01-02")
	type tally struct{ active, completed, overdue int }
	counts := map[string]*tally{}
	for _, r := range tasks {
		t := domain.TaskFromRecord(r)
		if t.Assignee == "" {
			continue
		}
		key := strings.ToLower(t.Assignee)
		c := counts[key]
		if c == nil {
			c = &tally{}
			counts[key] = c
		}
		switch {
		case t.Status == domain.StatusCompleted:
			c.completed++
		case t.Status.Open():
			c.active++
			if t.DueDate != "" && t.DueDate < today {
				c.overdue++
			}
		}
	}
	staff, err := e.ListStaff(ctx, "")
	if err != nil {
		return nil, err
	}
	var changes []store.Change
	for i := range staff {
		c := counts[staff[i].Email]
		if c == nil {
			c = &tally{}
		}
		score := 1.0
		if c.completed+c.overdue > 0 {
			score = float64(c.completed) / float64(c.completed+c.overdue)
		}
		staff[i].ActiveTaskCount = c.active
		staff[i].ReliabilityScore = math.Round(score*100) / 100
		rec := staff[i].Record()
		changes = append(changes, store.Change{Coll: store.Staff, Key: staff[i].Email, Fields: store.Record{
			domain.FieldActiveTaskCount:  rec[domain.FieldActiveTaskCount],
			domain.FieldReliabilityScore: rec[domain.FieldReliabilityScore],
		}})
	}
	if len(changes) > 0 {
		if err := e.Store.Batch(ctx, changes...); err != nil {
			return nil, err
		}
	}
	e.record(ctx, events.StaffRefreshed, "staff", "", "", events.EventPayload{"count": len(staff), "at": e.now().UTC().Format(time.RFC3339)})
	return staff, nil
}
