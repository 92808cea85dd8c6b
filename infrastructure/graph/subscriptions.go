package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"drivesync/domain/contracts"
	"drivesync/logging"
)

const (
	subscriptionChangeType = "updated"
)

// subscriptionsAPI is the part of the Graph SDK the subscription client needs.
type subscriptionsAPI interface {
	Post(ctx context.Context, tenantID string, body models.Subscriptionable) (models.Subscriptionable, error)
	Patch(ctx context.Context, tenantID, subscriptionID string, body models.Subscriptionable) (models.Subscriptionable, error)
	Delete(ctx context.Context, tenantID, subscriptionID string) error
}

// sdkSubscriptions calls the Graph SDK with one service client per tenant.
type sdkSubscriptions struct {
	tokens TokenProvider

	mu      sync.Mutex
	clients map[string]*msgraphsdk.GraphServiceClient
}

func (s *sdkSubscriptions) client(tenantID string) (*msgraphsdk.GraphServiceClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[tenantID]; ok {
		return client, nil
	}
	cred := &tenantCredential{tenantID: tenantID, tokens: s.tokens}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{DefaultScope})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}
	s.clients[tenantID] = client
	return client, nil
}

func (s *sdkSubscriptions) Post(ctx context.Context, tenantID string, body models.Subscriptionable) (models.Subscriptionable, error) {
	client, err := s.client(tenantID)
	if err != nil {
		return nil, err
	}
	return client.Subscriptions().Post(ctx, body, nil)
}

func (s *sdkSubscriptions) Patch(ctx context.Context, tenantID, subscriptionID string, body models.Subscriptionable) (models.Subscriptionable, error) {
	client, err := s.client(tenantID)
	if err != nil {
		return nil, err
	}
	return client.Subscriptions().BySubscriptionId(subscriptionID).Patch(ctx, body, nil)
}

func (s *sdkSubscriptions) Delete(ctx context.Context, tenantID, subscriptionID string) error {
	client, err := s.client(tenantID)
	if err != nil {
		return err
	}
	return client.Subscriptions().BySubscriptionId(subscriptionID).Delete(ctx, nil)
}

// SubscriptionClient manages drive change subscriptions. It implements contracts.SubscriptionClient.
type SubscriptionClient struct {
	api             subscriptionsAPI
	notificationURL string
	logger          *logging.Logger
}

// NewSubscriptionClient creates a client backed by the Graph SDK.
func NewSubscriptionClient(cfg Config, tokens TokenProvider) (*SubscriptionClient, error) {
	if tokens == nil {
		return nil, fmt.Errorf("subscription client: token provider is required")
	}
	if cfg.NotificationURL == "" {
		return nil, fmt.Errorf("subscription client: notification url is required")
	}
	api := &sdkSubscriptions{
		tokens:  tokens,
		clients: make(map[string]*msgraphsdk.GraphServiceClient),
	}
	return newSubscriptionClient(api, cfg.NotificationURL), nil
}

func newSubscriptionClient(api subscriptionsAPI, notificationURL string) *SubscriptionClient {
	return &SubscriptionClient{
		api:             api,
		notificationURL: notificationURL,
		logger:          logging.Default().WithComponent("graph_subscriptions"),
	}
}

// Create registers a subscription on the root of the drive.
func (c *SubscriptionClient) Create(ctx context.Context, req contracts.CreateSubscriptionRequest) (*contracts.RemoteSubscription, error) {
	resource := "drives/" + req.Scope.DriveID + "/root"
	changeType := subscriptionChangeType
	expires := req.ExpiresAt.UTC()
	clientState := req.ClientState
	notificationURL := c.notificationURL

	body := models.NewSubscription()
	body.SetResource(&resource)
	body.SetChangeType(&changeType)
	body.SetNotificationUrl(&notificationURL)
	body.SetLifecycleNotificationUrl(&notificationURL)
	body.SetExpirationDateTime(&expires)
	body.SetClientState(&clientState)

	created, err := c.api.Post(ctx, req.Scope.TenantID, body)
	if err != nil {
		return nil, classifySDKError("create subscription", err)
	}
	if created == nil || created.GetId() == nil || *created.GetId() == "" {
		return nil, fmt.Errorf("create subscription: %w: response has no id", contracts.ErrTransient)
	}

	remote := &contracts.RemoteSubscription{
		ID:          *created.GetId(),
		ExpiresAt:   expires,
		ClientState: clientState,
	}
	if exp := created.GetExpirationDateTime(); exp != nil {
		remote.ExpiresAt = exp.UTC()
	}

	c.logger.Graph("Subscription created",
		"tenant_id", req.Scope.TenantID,
		"drive_id", req.Scope.DriveID,
		"subscription_id", remote.ID,
		"expires_at", remote.ExpiresAt)
	return remote, nil
}

// Renew extends the expiry and returns the expiry Graph granted.
func (c *SubscriptionClient) Renew(ctx context.Context, tenantID, subscriptionID string, expiresAt time.Time) (time.Time, error) {
	expires := expiresAt.UTC()
	body := models.NewSubscription()
	body.SetExpirationDateTime(&expires)

	updated, err := c.api.Patch(ctx, tenantID, subscriptionID, body)
	if err != nil {
		return time.Time{}, classifySDKError("renew subscription", err)
	}
	if updated != nil && updated.GetExpirationDateTime() != nil {
		expires = updated.GetExpirationDateTime().UTC()
	}

	c.logger.Graph("Subscription renewed",
		"tenant_id", tenantID,
		"subscription_id", subscriptionID,
		"expires_at", expires)
	return expires, nil
}

// Delete removes a subscription. A subscription that is already gone is not an error.
func (c *SubscriptionClient) Delete(ctx context.Context, tenantID, subscriptionID string) error {
	err := classifySDKError("delete subscription", c.api.Delete(ctx, tenantID, subscriptionID))
	if errors.Is(err, contracts.ErrNotFound) {
		c.logger.Debug("Subscription already gone", "tenant_id", tenantID, "subscription_id", subscriptionID)
		return nil
	}
	return err
}

var _ contracts.SubscriptionClient = (*SubscriptionClient)(nil)
