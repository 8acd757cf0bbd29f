package guarantee

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/pkg/sheets"
)

// Source reads roster tabs straight from the spreadsheets.
type Source struct {
	client      sheets.Client
	refs        []config.GuaranteeSheet
	opts        ParseOptions
	concurrency int
}

// NewSource builds a Source from config.
func NewSource(client sheets.Client, cfg config.GuaranteeConfig) *Source {
	n := cfg.Concurrency
	if n <= 0 {
		n = 2
	}
	return &Source{client: client, refs: cfg.Sheets, opts: OptionsFrom(cfg), concurrency: n}
}

// Sheets returns the configured roster sheets.
func (s *Source) Sheets() []config.GuaranteeSheet { return s.refs }

// ReadTab reads and parses one roster tab.
func (s *Source) ReadTab(ctx context.Context, ref config.GuaranteeSheet) (Tab, error) {
	rows, err := s.client.Values(ctx, ref.SpreadsheetID, sheets.QuoteTab(ref.Tab))
	if err != nil {
		return Tab{}, eris.Wrapf(err, "guarantee: read %s/%s", ref.Name, ref.Tab)
	}
	return ParseTab(rows, ref, s.opts)
}

// Load reads every configured tab concurrently. Any tab failing fails the
// load so a partial roster never replaces a complete one.
func (s *Source) Load(ctx context.Context) ([]model.GuaranteeItem, error) {
	start := time.Now()
	tabs := make([]Tab, len(s.refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ref := range s.refs {
		g.Go(func() error {
			tab, err := s.ReadTab(gctx, ref)
			if err != nil {
				return err
			}
			tabs[i] = tab
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []model.GuaranteeItem
	for _, t := range tabs {
		items = append(items, t.Items...)
	}
	zap.L().Info("guarantee: roster loaded",
		zap.Int("sheets", len(tabs)),
		zap.Int("items", len(items)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return items, nil
}
