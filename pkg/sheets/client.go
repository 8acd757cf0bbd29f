// Package sheets is a narrow Google Sheets client: read a range, batch
// write ranges, append rows, and manage tabs.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/jtwolab/rankops/internal/resilience"
)

// ValueInput selects how written values are interpreted.
type ValueInput string

const (
	// Raw stores values exactly as given.
	Raw ValueInput = "RAW"
	// UserEntered parses values as if typed into the UI.
	UserEntered ValueInput = "USER_ENTERED"
)

// RangeUpdate writes Values starting at the top-left of Range.
type RangeUpdate struct {
	Range  string
	Values [][]any
}

// Client performs spreadsheet operations.
type Client interface {
	Values(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	BatchUpdate(ctx context.Context, spreadsheetID string, updates []RangeUpdate, input ValueInput) error
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any, input ValueInput) error
	Tabs(ctx context.Context, spreadsheetID string) ([]string, error)
	AddTab(ctx context.Context, spreadsheetID, title string, rows, cols int) error
	InsertRows(ctx context.Context, spreadsheetID, tab string, at, count int) error
}

// ErrTabNotFound is returned when a named tab does not exist.
var ErrTabNotFound = eris.New("sheets: tab not found")

type options struct {
	credentialsJSON []byte
	credentialsFile string
	httpClient      *http.Client
	endpoint        string
	rps             float64
	burst           int
	retry           resilience.Policy
	timeout         time.Duration
}

// Option configures the client.
type Option func(*options)

// WithCredentialsJSON authenticates with an inline service-account key.
func WithCredentialsJSON(data []byte) Option {
	return func(o *options) { o.credentialsJSON = data }
}

// WithCredentialsFile authenticates with a service-account key file.
func WithCredentialsFile(path string) Option {
	return func(o *options) { o.credentialsFile = path }
}

// WithHTTPClient bypasses credential handling and uses hc as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(url string) Option {
	return func(o *options) { o.endpoint = url }
}

// WithRateLimit caps request throughput.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.rps = rps
		o.burst = burst
	}
}

// WithRetry overrides the retry policy.
func WithRetry(p resilience.Policy) Option {
	return func(o *options) { o.retry = p }
}

// WithTimeout bounds each API call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

type apiClient struct {
	svc     *sheetsapi.Service
	limiter *rate.Limiter
	retry   resilience.Policy
	breaker *resilience.Breaker
	timeout time.Duration
}

// New builds a Client backed by the Sheets v4 API.
func New(ctx context.Context, opts ...Option) (Client, error) {
	o := options{rps: 1, burst: 5, retry: resilience.DefaultPolicy().WithAttempts(4), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	var clientOpts []option.ClientOption
	switch {
	case o.httpClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(o.httpClient))
	default:
		data := o.credentialsJSON
		if len(data) == 0 && o.credentialsFile != "" {
			raw, err := os.ReadFile(o.credentialsFile)
			if err != nil {
				return nil, eris.Wrap(err, "sheets: read credentials file")
			}
			data = raw
		}
		if len(data) == 0 {
			return nil, eris.New("sheets: no credentials configured")
		}
		creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsScope)
		if err != nil {
			return nil, eris.Wrap(err, "sheets: parse credentials")
		}
		clientOpts = append(clientOpts, option.WithCredentials(creds))
	}
	if o.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(o.endpoint))
	}

	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create service")
	}

	return &apiClient{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(o.rps), o.burst),
		retry:   o.retry,
		breaker: resilience.NewBreaker(5, time.Minute, resilience.IsTransient),
		timeout: o.timeout,
	}, nil
}

// call runs fn under the rate limiter, breaker and retry policy.
func (c *apiClient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p := c.retry
	p.OnRetry = resilience.LogRetries("sheets", op)
	err := resilience.Retry(ctx, p, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return classify(fn(ctx))
		})
	})
	if err != nil {
		return eris.Wrapf(err, "sheets: %s", op)
	}
	return nil
}

// classify marks quota and server errors as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && resilience.IsTransientHTTPStatus(gerr.Code) {
		return resilience.Transient(err, gerr.Code)
	}
	return err
}

// isMissingRange reports the 400 the API answers when a range names a tab
// that does not exist.
func isMissingRange(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest &&
		strings.Contains(gerr.Message, "Unable to parse range")
}

func (c *apiClient) Values(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	var out [][]string
	err := c.call(ctx, "get values", func(ctx context.Context) error {
		resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).Do()
		if isMissingRange(err) {
			return eris.Wrapf(ErrTabNotFound, "sheets: range %q", rng)
		}
		if err != nil {
			return err
		}
		out = make([][]string, len(resp.Values))
		for i, row := range resp.Values {
			out[i] = make([]string, len(row))
			for j, v := range row {
				out[i][j] = fmt.Sprint(v)
			}
		}
		return nil
	})
	return out, err
}

func (c *apiClient) BatchUpdate(ctx context.Context, spreadsheetID string, updates []RangeUpdate, input ValueInput) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*sheetsapi.ValueRange, len(updates))
	for i, u := range updates {
		data[i] = &sheetsapi.ValueRange{Range: u.Range, Values: u.Values}
	}
	req := &sheetsapi.BatchUpdateValuesRequest{ValueInputOption: string(input), Data: data}
	return c.call(ctx, "batch update", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

func (c *apiClient) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any, input ValueInput) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &sheetsapi.ValueRange{Values: rows}
	return c.call(ctx, "append", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rng, vr).
			ValueInputOption(string(input)).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return err
	})
}

func (c *apiClient) Tabs(ctx context.Context, spreadsheetID string) ([]string, error) {
	props, err := c.properties(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(props))
	for i, p := range props {
		titles[i] = p.Title
	}
	return titles, nil
}

func (c *apiClient) AddTab(ctx context.Context, spreadsheetID, title string, rows, cols int) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{Requests: []*sheetsapi.Request{{
		AddSheet: &sheetsapi.AddSheetRequest{Properties: &sheetsapi.SheetProperties{
			Title:          title,
			GridProperties: &sheetsapi.GridProperties{RowCount: int64(rows), ColumnCount: int64(cols)},
		}},
	}}}
	return c.call(ctx, "add tab", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

func (c *apiClient) InsertRows(ctx context.Context, spreadsheetID, tab string, at, count int) error {
	props, err := c.properties(ctx, spreadsheetID)
	if err != nil {
		return err
	}
	var sheetID int64 = -1
	for _, p := range props {
		if p.Title == tab {
			sheetID = p.SheetId
		}
	}
	if sheetID < 0 {
		return eris.Wrapf(ErrTabNotFound, "sheets: insert rows into %q", tab)
	}

	req := &sheetsapi.BatchUpdateSpreadsheetRequest{Requests: []*sheetsapi.Request{{
		InsertDimension: &sheetsapi.InsertDimensionRequest{Range: &sheetsapi.DimensionRange{
			SheetId:    sheetID,
			Dimension:  "ROWS",
			StartIndex: int64(at),
			EndIndex:   int64(at + count),
		}},
	}}}
	return c.call(ctx, "insert rows", func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

func (c *apiClient) properties(ctx context.Context, spreadsheetID string) ([]*sheetsapi.SheetProperties, error) {
	var props []*sheetsapi.SheetProperties
	err := c.call(ctx, "get spreadsheet", func(ctx context.Context) error {
		resp, err := c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		if err != nil {
			return err
		}
		props = props[:0]
		for _, s := range resp.Sheets {
			if s.Properties != nil {
				props = append(props, s.Properties)
			}
		}
		return nil
	})
	return props, err
}
