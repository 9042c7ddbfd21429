package collector

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/perfpulse/correlate/evidence"
)

// GitlabConfig configures a GitLab adapter instance.
type GitlabConfig struct {
	URL      string
	Token    string
	Projects []string // "group/project" slugs
}

// GitlabCollector collects merge requests and issues from GitLab,
// modeled on this codebase's existing gitlab.NewClient(token,
// gitlab.WithBaseURL(...)) construction pattern.
type GitlabCollector struct {
	cfg    GitlabConfig
	client *gitlab.Client
}

// NewGitlabCollector builds a GitLab adapter.
func NewGitlabCollector(cfg GitlabConfig) (*GitlabCollector, error) {
	client, err := gitlab.NewClient(cfg.Token, gitlab.WithBaseURL(cfg.URL+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("gitlab collector: new client: %w", err)
	}
	return &GitlabCollector{cfg: cfg, client: client}, nil
}

func (g *GitlabCollector) Name() string { return "gitlab" }

func (g *GitlabCollector) Capabilities() Capabilities {
	return Capabilities{
		Kinds:              []evidence.Kind{evidence.KindMergeReq, evidence.KindTicket},
		SupportsUserWindow: true,
	}
}

func (g *GitlabCollector) Health(ctx context.Context) Health {
	if _, _, err := g.client.Users.CurrentUser(); err != nil {
		return Health{OK: false, Detail: err.Error()}
	}
	return Health{OK: true}
}

// Collect pulls merge requests and issues authored by person across the
// configured projects, clamped to window.
func (g *GitlabCollector) Collect(ctx context.Context, person string, window Window) ([]*evidence.Item, error) {
	var items []*evidence.Item
	from, to := window.From, window.To

	for _, project := range g.cfg.Projects {
		mrState := "all"
		mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(project, &gitlab.ListProjectMergeRequestsOptions{
			AuthorUsername: &person,
			State:          &mrState,
			CreatedAfter:   &from,
			CreatedBefore:  &to,
		})
		if err != nil {
			return nil, &CollectorError{Failure: classifyGitlabErr(err), Cause: err}
		}
		for _, mr := range mrs {
			if mr.CreatedAt == nil {
				continue
			}
			items = append(items, &evidence.Item{
				ID:        fmt.Sprintf("%d", mr.IID),
				Source:    "gitlab:" + project,
				Kind:      evidence.KindMergeReq,
				Author:    person,
				Timestamp: *mr.CreatedAt,
				Title:     mr.Title,
				Body:      mr.Description,
				URL:       mr.WebURL,
			})
		}

		issueState := "all"
		issues, _, err := g.client.Issues.ListProjectIssues(project, &gitlab.ListProjectIssuesOptions{
			AuthorUsername: &person,
			State:          &issueState,
			CreatedAfter:   &from,
			CreatedBefore:  &to,
		})
		if err != nil {
			return nil, &CollectorError{Failure: classifyGitlabErr(err), Cause: err}
		}
		for _, is := range issues {
			if is.CreatedAt == nil {
				continue
			}
			items = append(items, &evidence.Item{
				ID:        fmt.Sprintf("%d", is.IID),
				Source:    "gitlab:" + project,
				Kind:      evidence.KindTicket,
				Author:    person,
				Timestamp: *is.CreatedAt,
				Title:     is.Title,
				Body:      is.Description,
				URL:       is.WebURL,
			})
		}
	}
	return items, nil
}

func classifyGitlabErr(err error) Failure {
	if resp, ok := err.(*gitlab.ErrorResponse); ok && resp.Response != nil {
		switch resp.Response.StatusCode {
		case 401, 403:
			return FailureAuth
		case 429:
			return FailureRateLimited
		case 502, 503, 504:
			return FailureUnavailable
		}
	}
	return FailureInvalid
}
