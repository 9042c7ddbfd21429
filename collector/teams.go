package collector

import (
	"context"
	"fmt"

	azidentity "github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/perfpulse/correlate/evidence"
)

// TeamsConfig configures the Microsoft Teams adapter, authenticating via
// Azure AD client credentials the same way this codebase's existing Graph
// integration does.
type TeamsConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// TeamsCollector collects chat messages a person sent in Microsoft Teams,
// via the Graph API's chats endpoint.
type TeamsCollector struct {
	cfg    TeamsConfig
	client *msgraphsdk.GraphServiceClient
}

// NewTeamsCollector builds a Teams adapter and its Graph client.
func NewTeamsCollector(cfg TeamsConfig) (*TeamsCollector, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("teams collector: credentials: %w", err)
	}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("teams collector: graph client: %w", err)
	}
	return &TeamsCollector{cfg: cfg, client: client}, nil
}

func (t *TeamsCollector) Name() string { return "teams" }

func (t *TeamsCollector) Capabilities() Capabilities {
	return Capabilities{
		Kinds:              []evidence.Kind{evidence.KindMessage},
		SupportsUserWindow: false, // the chats endpoint does not support server-side date filtering
	}
}

func (t *TeamsCollector) Health(ctx context.Context) Health {
	if _, err := t.client.Users().Get(ctx, nil); err != nil {
		return Health{OK: false, Detail: err.Error()}
	}
	return Health{OK: true}
}

// Collect lists person's chats and, within each, the messages person sent
// inside window. The chats/messages surface has no server-side author
// filter, so filtering happens client-side after retrieval.
func (t *TeamsCollector) Collect(ctx context.Context, person string, window Window) ([]*evidence.Item, error) {
	chatsResp, err := t.client.Users().ByUserId(person).Chats().Get(ctx, nil)
	if err != nil {
		return nil, &CollectorError{Failure: classifyGraphErr(err), Cause: err}
	}

	var items []*evidence.Item
	for _, chat := range chatsResp.GetValue() {
		if chat.GetId() == nil {
			continue
		}
		chatID := *chat.GetId()

		msgResp, err := t.client.Users().ByUserId(person).Chats().ByChatId(chatID).Messages().Get(ctx, nil)
		if err != nil {
			return nil, &CollectorError{Failure: classifyGraphErr(err), Cause: err}
		}
		for _, msg := range msgResp.GetValue() {
			item := teamsMessageToItem(chatID, msg, person, window)
			if item != nil {
				items = append(items, item)
			}
		}
	}
	return items, nil
}

func teamsMessageToItem(chatID string, msg models.ChatMessageable, person string, window Window) *evidence.Item {
	if msg.GetId() == nil || msg.GetCreatedDateTime() == nil {
		return nil
	}
	from := msg.GetFrom()
	if from == nil || from.GetUser() == nil || from.GetUser().GetId() == nil || *from.GetUser().GetId() != person {
		return nil
	}
	ts := *msg.GetCreatedDateTime()
	if ts.Before(window.From) || ts.After(window.To) {
		return nil
	}

	body := ""
	if b := msg.GetBody(); b != nil && b.GetContent() != nil {
		body = *b.GetContent()
	}

	return &evidence.Item{
		ID:        *msg.GetId(),
		Source:    "teams:" + chatID,
		Kind:      evidence.KindMessage,
		Author:    person,
		Timestamp: ts,
		Title:     firstLine(body),
		Body:      body,
	}
}

func classifyGraphErr(err error) Failure {
	msg := err.Error()
	switch {
	case containsAny(msg, "401", "403", "InvalidAuthenticationToken", "Forbidden"):
		return FailureAuth
	case containsAny(msg, "429", "TooManyRequests"):
		return FailureRateLimited
	case containsAny(msg, "503", "504", "ServiceUnavailable", "GatewayTimeout"):
		return FailureUnavailable
	default:
		return FailureInvalid
	}
}
