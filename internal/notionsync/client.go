package notionsync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
)

const (
	defaultRetries = 5
	defaultTimeout = 30 * time.Second
	queryPageSize  = 100
)

// NotionClient talks to the review database through the Notion SDK. Rate-limited
// requests are retried by the SDK using the Retry-After header.
type NotionClient struct {
	client *notionapi.Client
}

// ClientOptions tune the HTTP side of NotionClient. Zero values use the defaults.
type ClientOptions struct {
	Retries    int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewNotionClient creates a client for an integration token.
func NewNotionClient(token string) *NotionClient {
	return NewNotionClientWithOptions(token, ClientOptions{})
}

// NewNotionClientWithOptions creates a client with explicit retry and timeout settings.
func NewNotionClientWithOptions(token string, opts ClientOptions) *NotionClient {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &NotionClient{
		client: notionapi.NewClient(notionapi.Token(token),
			notionapi.WithRetry(opts.Retries),
			notionapi.WithHTTPClient(httpClient),
		),
	}
}

// MirrorQuery is one page of the query that lists mirrored transactions. Rows staff
// added by hand carry no transaction id and are left out.
func MirrorQuery(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	return &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: PropTransactionID,
			RichText: &notionapi.TextFilterCondition{IsNotEmpty: true},
		},
		StartCursor: cursor,
		PageSize:    queryPageSize,
	}
}

// CreatePage adds a transaction page to databaseID.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: database %s: %w", databaseID, err)
	}
	return page, nil
}

// UpdatePage overwrites properties on a mirrored page and leaves the rest alone.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: page %s: %w", pageID, err)
	}
	return page, nil
}

// QueryDatabase runs one page of query. A nil query lists mirrored pages from the start.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, query *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if query == nil {
		query = MirrorQuery("")
	}

	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), query)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: database %s: %w", databaseID, err)
	}
	return resp, nil
}

var _ NotionService = (*NotionClient)(nil)
