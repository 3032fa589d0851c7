// Package remote implements the client for the content query service: the
// paginated filtered query, the legacy RSS fallback feed, the slide backfill
// query and the targeted ownership/topic lookups.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"

	"storyfeed/internal/models"
)

// NetworkProfile classifies the client's network context and selects the
// per-call timeout ceiling.
type NetworkProfile string

const (
	ProfileFast NetworkProfile = "fast"
	ProfileSlow NetworkProfile = "slow"
)

// Error wraps a failed remote call with enough context to decide whether
// the failure is recoverable (timeout, abort, connectivity) or a hard
// remote query failure.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRecoverable reports whether an error represents a transient failure
// (timeout, cancellation, connectivity) rather than a hard remote rejection.
// Aborted calls are recoverable by definition: they feed the fallback chain,
// they are never fatal.
func IsRecoverable(err error) bool {
	var re *Error
	if errors.As(err, &re) && re.Transient {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Client talks to the remote content source.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	profile    NetworkProfile
	feedParser *gofeed.Parser
}

// NewClient creates a Client. httpClient may be nil, in which case
// http.DefaultClient is used.
func NewClient(httpClient *http.Client, baseURL, apiKey string, profile NetworkProfile) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if profile == "" {
		profile = ProfileFast
	}
	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		profile:    profile,
		feedParser: gofeed.NewParser(),
	}
}

// Timeout returns the call ceiling for the configured network profile.
func (c *Client) Timeout() time.Duration {
	if c.profile == ProfileSlow {
		return 20 * time.Second
	}
	return 8 * time.Second
}

type pageRequest struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Limit    int      `json:"limit"`
	Offset   int      `json:"offset"`
}

// FetchPage runs the paginated filtered query. keywords and sources are nil
// for an unfiltered fetch. Rows come back denormalized, one per story×slide
// pair, with a placeholder row for slide-less stories.
func (c *Client) FetchPage(ctx context.Context, topicKey string, keywords, sources []string, limit, offset int) ([]models.StoryRow, error) {
	body := pageRequest{Topic: topicKey, Keywords: keywords, Sources: sources, Limit: limit, Offset: offset}
	var rows []models.StoryRow
	if err := c.postJSON(ctx, "pages", "/query/pages", body, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchPageWithRetry wraps FetchPage with a bounded fibonacci backoff,
// retrying only transient failures. Used at session initialization only,
// never during steady-state filtering.
func (c *Client) FetchPageWithRetry(ctx context.Context, topicKey string, limit, offset int) ([]models.StoryRow, error) {
	var rows []models.StoryRow
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		rows, err = c.FetchPage(ctx, topicKey, nil, nil, limit, offset)
		if err != nil && IsRecoverable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchLegacyPage fetches the simplified unfiltered fallback feed for a
// topic slug. The legacy endpoint serves RSS; each item maps to one story
// and its content paragraphs map to slides. limit and offset are passed
// through and also applied over the parsed items, since the legacy service
// does not always honor them.
func (c *Client) FetchLegacyPage(ctx context.Context, topicSlug string, limit, offset int) ([]models.StoryRow, error) {
	endpoint := fmt.Sprintf("%s/feeds/%s.xml?%s", c.baseURL, url.PathEscape(topicSlug), url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
		"sort":   {"published_desc"},
	}.Encode())

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: "legacy", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: "legacy", Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "legacy", Status: resp.StatusCode, Transient: resp.StatusCode >= 500}
	}

	feed, err := c.feedParser.Parse(resp.Body)
	if err != nil {
		return nil, &Error{Op: "legacy", Err: fmt.Errorf("parse feed: %w", err)}
	}

	items := feed.Items
	if offset > 0 {
		if offset >= len(items) {
			return nil, nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	var rows []models.StoryRow
	for _, item := range items {
		rows = append(rows, legacyItemRows(item)...)
	}
	return rows, nil
}

// legacyItemRows expands one RSS item into story×slide rows. Stories with no
// content at all flatten into a single placeholder row.
func legacyItemRows(item *gofeed.Item) []models.StoryRow {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	published := ""
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.Format(time.RFC3339)
	}
	author := ""
	if item.Author != nil {
		author = item.Author.Name
	}
	base := models.StoryRow{
		StoryID:     id,
		Title:       item.Title,
		Author:      author,
		SourceURL:   item.Link,
		CreatedAt:   published,
		ContentDate: published,
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	var paragraphs []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return []models.StoryRow{base}
	}

	rows := make([]models.StoryRow, 0, len(paragraphs))
	for i, p := range paragraphs {
		row := base
		row.SlideID = fmt.Sprintf("%s#%d", id, i+1)
		row.SlideIndex = i + 1
		row.SlideContent = p
		row.WordCount = len(strings.Fields(p))
		rows = append(rows, row)
	}
	return rows
}

type slidesRequest struct {
	StoryIDs []string `json:"story_ids"`
}

// FetchFullSlides fetches the complete slide sets for the given story ids,
// the repair path for incomplete groupings.
func (c *Client) FetchFullSlides(ctx context.Context, storyIDs []string) ([]models.Slide, error) {
	var slides []models.Slide
	if err := c.postJSON(ctx, "slides", "/query/slides", slidesRequest{StoryIDs: storyIDs}, &slides); err != nil {
		return nil, err
	}
	return slides, nil
}

type ownershipResponse struct {
	TopicID string `json:"topic_id"`
}

// CheckOwnership returns the topic id a story belongs to, used by the
// realtime reconciler when an event references a story outside the cached
// id set.
func (c *Client) CheckOwnership(ctx context.Context, storyID string) (string, error) {
	var out ownershipResponse
	endpoint := "/query/stories/" + url.PathEscape(storyID) + "/topic"
	if err := c.getJSON(ctx, "ownership", endpoint, &out); err != nil {
		return "", err
	}
	return out.TopicID, nil
}

// FetchTopic reloads a single topic record.
func (c *Client) FetchTopic(ctx context.Context, topicID string) (*models.Topic, error) {
	var topic models.Topic
	endpoint := "/query/topics/" + url.PathEscape(topicID)
	if err := c.getJSON(ctx, "topic", endpoint, &topic); err != nil {
		return nil, err
	}
	return &topic, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.do(op, req, out)
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	c.setHeaders(req)
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &Error{Op: op, Status: resp.StatusCode, Transient: resp.StatusCode >= 500}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
