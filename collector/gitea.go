package collector

import (
	"context"
	"fmt"
	"strings"

	"code.gitea.io/sdk/gitea"

	"github.com/perfpulse/correlate/evidence"
)

// GiteaConfig configures a Gitea adapter instance.
type GiteaConfig struct {
	URL   string
	Token string
	// Repos lists the "owner/repo" slugs to scan. A real deployment would
	// resolve this from the person's known repositories; here it is
	// supplied explicitly to keep the adapter's scope bounded and testable.
	Repos []string
}

// GiteaCollector collects commits, issues, and pull requests from a Gitea
// instance, modeled on the client construction and archive-retrieval
// pattern this codebase already uses for Gitea integration.
type GiteaCollector struct {
	cfg    GiteaConfig
	client *gitea.Client
}

// NewGiteaCollector builds a Gitea adapter and eagerly constructs its
// client, so that a bad URL or token surfaces at registration time rather
// than on the first Collect call.
func NewGiteaCollector(cfg GiteaConfig) (*GiteaCollector, error) {
	client, err := gitea.NewClient(cfg.URL, gitea.SetToken(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("gitea collector: new client: %w", err)
	}
	return &GiteaCollector{cfg: cfg, client: client}, nil
}

func (g *GiteaCollector) Name() string { return "gitea" }

func (g *GiteaCollector) Capabilities() Capabilities {
	return Capabilities{
		Kinds:              []evidence.Kind{evidence.KindCommit, evidence.KindTicket, evidence.KindMergeReq},
		SupportsUserWindow: true,
	}
}

func (g *GiteaCollector) Health(ctx context.Context) Health {
	if _, _, err := g.client.GetMyUserInfo(); err != nil {
		return Health{OK: false, Detail: err.Error()}
	}
	return Health{OK: true}
}

// Collect pulls commits, issues, and pull requests authored by person
// across the configured repositories, clamped to window.
func (g *GiteaCollector) Collect(ctx context.Context, person string, window Window) ([]*evidence.Item, error) {
	var items []*evidence.Item
	for _, slug := range g.cfg.Repos {
		owner, repo, err := splitSlug(slug)
		if err != nil {
			return nil, &CollectorError{Failure: FailureInvalid, Cause: err}
		}

		commits, _, err := g.client.ListRepoCommits(owner, repo, gitea.ListCommitOptions{
			SHA: "",
		})
		if err != nil {
			return nil, &CollectorError{Failure: classifyGiteaErr(err), Cause: err}
		}
		for _, c := range commits {
			if c.Author == nil || c.Author.UserName != person {
				continue
			}
			ts := c.Created
			if ts.Before(window.From) || ts.After(window.To) {
				continue
			}
			items = append(items, &evidence.Item{
				ID:        c.SHA,
				Source:    "gitea:" + slug,
				Kind:      evidence.KindCommit,
				Author:    person,
				Timestamp: ts,
				Title:     firstLine(c.RepoCommit.Message),
				Body:      c.RepoCommit.Message,
				URL:       c.HTMLURL,
			})
		}

		issues, _, err := g.client.ListRepoIssues(owner, repo, gitea.ListIssueOption{Type: gitea.IssueTypeIssue})
		if err != nil {
			return nil, &CollectorError{Failure: classifyGiteaErr(err), Cause: err}
		}
		for _, is := range issues {
			if is.Poster == nil || is.Poster.UserName != person {
				continue
			}
			if is.Created.Before(window.From) || is.Created.After(window.To) {
				continue
			}
			items = append(items, &evidence.Item{
				ID:        fmt.Sprintf("%d", is.Index),
				Source:    "gitea:" + slug,
				Kind:      evidence.KindTicket,
				Author:    person,
				Timestamp: is.Created,
				Title:     is.Title,
				Body:      is.Body,
				URL:       is.HTMLURL,
			})
		}

		prs, _, err := g.client.ListRepoPullRequests(owner, repo, gitea.ListPullRequestsOptions{})
		if err != nil {
			return nil, &CollectorError{Failure: classifyGiteaErr(err), Cause: err}
		}
		for _, pr := range prs {
			if pr.Poster == nil || pr.Poster.UserName != person {
				continue
			}
			if pr.Created == nil || pr.Created.Before(window.From) || pr.Created.After(window.To) {
				continue
			}
			items = append(items, &evidence.Item{
				ID:        fmt.Sprintf("%d", pr.Index),
				Source:    "gitea:" + slug,
				Kind:      evidence.KindMergeReq,
				Author:    person,
				Timestamp: *pr.Created,
				Title:     pr.Title,
				Body:      pr.Body,
				URL:       pr.HTMLURL,
			})
		}
	}
	return items, nil
}

func splitSlug(slug string) (owner, repo string, err error) {
	for i := 0; i < len(slug); i++ {
		if slug[i] == '/' {
			return slug[:i], slug[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid repo slug %q, want owner/repo", slug)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

func classifyGiteaErr(err error) Failure {
	if err == nil {
		return ""
	}
	// The Gitea SDK surfaces HTTP failures as plain errors without a typed
	// status; string sniffing here is a pragmatic approximation until the
	// SDK exposes structured error codes.
	msg := err.Error()
	switch {
	case containsAny(msg, "401", "403", "Unauthorized", "Forbidden"):
		return FailureAuth
	case containsAny(msg, "429", "rate limit"):
		return FailureRateLimited
	case containsAny(msg, "connection refused", "timeout", "503", "502"):
		return FailureUnavailable
	default:
		return FailureInvalid
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
