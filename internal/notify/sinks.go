// Package notify delivers finished batch reports to chat, task-tracker and
// alerting destinations. Every sink is best-effort.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/model"
	"github.com/sells-group/balance-cli/internal/report"
	"github.com/sells-group/balance-cli/pkg/clickup"
	"github.com/sells-group/balance-cli/pkg/notion"
)

// ClickUpSink posts the rendered report as a comment on a ClickUp list or
// view.
type ClickUpSink struct {
	client   clickup.Client
	targetID string
	opts     report.Options
}

// NewClickUpSink creates a ClickUpSink. A numeric targetID is a list, anything
// else is a view.
func NewClickUpSink(client clickup.Client, targetID string, opts report.Options) *ClickUpSink {
	return &ClickUpSink{client: client, targetID: targetID, opts: opts}
}

func (s *ClickUpSink) Name() string { return "clickup" }

func (s *ClickUpSink) SendReport(ctx context.Context, r *model.BatchReport) error {
	id, err := s.client.PostComment(ctx, s.targetID, report.Render(*r, s.opts))
	if err != nil {
		return eris.Wrap(err, "notify: clickup report")
	}
	zap.L().Info("notify: report posted to clickup", zap.String("comment_id", id))
	return nil
}

// NotionSink records each report as a page in a Notion database. The
// database is expected to have the properties Name (title), Date (date),
// Accounts, Success, Failures, Retried, Total Balance (number) and Status
// (select).
type NotionSink struct {
	client notion.Client
	dbID   string
	opts   report.Options
}

// NewNotionSink creates a NotionSink writing to database dbID.
func NewNotionSink(client notion.Client, dbID string, opts report.Options) *NotionSink {
	return &NotionSink{client: client, dbID: dbID, opts: opts}
}

func (s *NotionSink) Name() string { return "notion" }

func (s *NotionSink) SendReport(ctx context.Context, r *model.BatchReport) error {
	page, err := s.client.CreatePage(ctx, s.pageRequest(r))
	if err != nil {
		return eris.Wrap(err, "notify: notion report")
	}
	zap.L().Info("notify: report page created", zap.String("page_id", string(page.ID)))
	return nil
}

func (s *NotionSink) pageRequest(r *model.BatchReport) *notionapi.PageCreateRequest {
	date := s.opts.Date
	if date.IsZero() {
		date = r.StartedAt
	}
	if date.IsZero() {
		date = time.Now()
	}
	start := notionapi.Date(date)

	status := "OK"
	if r.Stats.FailureCount > 0 {
		status = "Issues"
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.dbID),
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Title: notion.RichText(fmt.Sprintf("Batch %s", date.Format("2006-01-02 15:04"))),
			},
			"Date": notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &start},
			},
			"Accounts":      notionapi.NumberProperty{Number: float64(r.Total)},
			"Success":       notionapi.NumberProperty{Number: float64(r.Stats.SuccessCount)},
			"Failures":      notionapi.NumberProperty{Number: float64(r.Stats.FailureCount)},
			"Retried":       notionapi.NumberProperty{Number: float64(r.Stats.RetriedCount)},
			"Total Balance": notionapi.NumberProperty{Number: float64(r.TotalValue)},
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{Name: status},
			},
		},
		Children: notion.Paragraphs(report.Render(*r, s.opts)),
	}
}
