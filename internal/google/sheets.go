package google

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/ledger"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"google.golang.org/api/sheets/v4"
)

// Header row colours.
var (
	headerBackground = &sheets.Color{Red: 0.102, Green: 0.310, Blue: 0.576}
	headerForeground = &sheets.Color{Red: 1, Green: 1, Blue: 1}
)

// Spreadsheet identifies a spreadsheet created for a user.
type Spreadsheet struct {
	ID  string
	URL string
}

// SheetsClient writes receipts into month tabs of a user's spreadsheet and
// reads tabs back for migration.
type SheetsClient struct {
	services  *ServiceFactory
	refresher Refresher
	locker    Locker
	now       func() time.Time
}

// NewSheetsClient creates a SheetsClient. locker may be nil.
func NewSheetsClient(services *ServiceFactory, refresher Refresher, locker Locker) *SheetsClient {
	return &SheetsClient{
		services:  services,
		refresher: refresher,
		locker:    locker,
		now:       time.Now,
	}
}

// Session creates a Session using the client's refresher.
func (c *SheetsClient) Session(accessToken string, userID uuid.UUID) *Session {
	return NewSession(accessToken, userID, c.refresher)
}

// QuoteTab quotes a tab title for use in an A1 range.
func QuoteTab(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// AppendReceipt appends row to the month tab matching its date, creating
// the tab in chronological position when it does not exist yet.
func (c *SheetsClient) AppendReceipt(ctx context.Context, sess *Session, spreadsheetID string, row ledger.Row) error {
	if strings.TrimSpace(spreadsheetID) == "" {
		return invalidInput("spreadsheet id is required")
	}

	tab := ledger.MonthTabName(row.Date)
	if err := c.EnsureMonthTab(ctx, sess, spreadsheetID, tab); err != nil {
		return err
	}

	_, err := withRefresh(ctx, sess, func(token string) (*sheets.AppendValuesResponse, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.Values.Append(spreadsheetID, QuoteTab(tab)+"!A:F", &sheets.ValueRange{
			Values: [][]any{row.Values()},
		}).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	})
	if err != nil {
		return classifySheetsError("failed to append receipt row", err)
	}

	logger.Log.Debug().Str("tab", tab).Msg("Appended receipt row")
	return nil
}

// EnsureMonthTab creates tab with a formatted header row unless it exists.
func (c *SheetsClient) EnsureMonthTab(ctx context.Context, sess *Session, spreadsheetID, tab string) error {
	ensure := func(ctx context.Context) error {
		titles, err := c.ListTabs(ctx, sess, spreadsheetID)
		if err != nil {
			return err
		}
		if slices.Contains(titles, tab) {
			return nil
		}
		return c.addMonthTab(ctx, sess, spreadsheetID, tab, ledger.InsertIndex(titles, tab))
	}

	if c.locker != nil && sess.userID != uuid.Nil {
		return c.locker.WithLock(ctx, "sheets-tab:"+sess.userID.String()+":"+spreadsheetID, ensure)
	}
	return ensure(ctx)
}

// ListTabs returns the tab titles of a spreadsheet in display order.
func (c *SheetsClient) ListTabs(ctx context.Context, sess *Session, spreadsheetID string) ([]string, error) {
	ss, err := withRefresh(ctx, sess, func(token string) (*sheets.Spreadsheet, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.Get(spreadsheetID).
			Fields("sheets.properties(sheetId,title,index)").
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, classifySheetsError("failed to list tabs", err)
	}

	props := make([]*sheets.SheetProperties, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			props = append(props, sh.Properties)
		}
	}
	slices.SortStableFunc(props, func(a, b *sheets.SheetProperties) int {
		return int(a.Index - b.Index)
	})

	titles := make([]string, len(props))
	for i, p := range props {
		titles[i] = p.Title
	}
	return titles, nil
}

// ReadTab returns every row of a tab. Formulas are returned as written and
// dates as displayed.
func (c *SheetsClient) ReadTab(ctx context.Context, sess *Session, spreadsheetID, tab string) ([][]any, error) {
	vr, err := withRefresh(ctx, sess, func(token string) (*sheets.ValueRange, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.Values.Get(spreadsheetID, QuoteTab(tab)).
			ValueRenderOption("FORMULA").
			DateTimeRenderOption("FORMATTED_STRING").
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, classifySheetsError("failed to read tab "+tab, err)
	}
	return vr.Values, nil
}

// CreateSpreadsheet creates a spreadsheet titled title whose first tab is
// the current month with its header row.
func (c *SheetsClient) CreateSpreadsheet(ctx context.Context, sess *Session, title string) (*Spreadsheet, error) {
	tab := ledger.MonthTabName(c.now())

	created, err := withRefresh(ctx, sess, func(token string) (*sheets.Spreadsheet, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.Create(&sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{Title: title},
			Sheets: []*sheets.Sheet{
				{Properties: &sheets.SheetProperties{Title: tab}},
			},
		}).Context(ctx).Do()
	})
	if err != nil {
		return nil, classifySheetsError("failed to create spreadsheet", err)
	}

	var sheetID int64
	if len(created.Sheets) > 0 && created.Sheets[0].Properties != nil {
		sheetID = created.Sheets[0].Properties.SheetId
	}
	if err := c.writeHeader(ctx, sess, created.SpreadsheetId, tab, sheetID); err != nil {
		return nil, err
	}

	logger.Log.Info().Str("spreadsheet_id", created.SpreadsheetId).Msg("Created spreadsheet")
	return &Spreadsheet{ID: created.SpreadsheetId, URL: created.SpreadsheetUrl}, nil
}

func (c *SheetsClient) addMonthTab(ctx context.Context, sess *Session, spreadsheetID, tab string, index int) error {
	resp, err := withRefresh(ctx, sess, func(token string) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{
						Title: tab,
						Index: int64(index),
						// Index 0 would otherwise be dropped as the zero value.
						ForceSendFields: []string{"Index"},
					},
				},
			}},
		}).Context(ctx).Do()
	})
	if err != nil {
		return classifySheetsError("failed to add tab "+tab, err)
	}

	var sheetID int64
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}

	logger.Log.Info().Str("tab", tab).Int("index", index).Msg("Created month tab")
	return c.writeHeader(ctx, sess, spreadsheetID, tab, sheetID)
}

func (c *SheetsClient) writeHeader(ctx context.Context, sess *Session, spreadsheetID, tab string, sheetID int64) error {
	header := make([]any, len(ledger.Header))
	for i, h := range ledger.Header {
		header[i] = h
	}

	_, err := withRefresh(ctx, sess, func(token string) (*sheets.UpdateValuesResponse, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.Values.Update(spreadsheetID, QuoteTab(tab)+"!A1:F1", &sheets.ValueRange{
			Values: [][]any{header},
		}).ValueInputOption("RAW").Context(ctx).Do()
	})
	if err != nil {
		return classifySheetsError("failed to write header", err)
	}

	_, err = withRefresh(ctx, sess, func(token string) (*sheets.BatchUpdateSpreadsheetResponse, error) {
		svc, err := c.services.Sheets(ctx, token)
		if err != nil {
			return nil, err
		}
		return svc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: headerFormatRequests(sheetID),
		}).Context(ctx).Do()
	})
	if err != nil {
		return classifySheetsError("failed to format header", err)
	}
	return nil
}

func headerFormatRequests(sheetID int64) []*sheets.Request {
	return []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(ledger.Header)),
					ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						BackgroundColor: headerBackground,
						TextFormat: &sheets.TextFormat{
							Bold:            true,
							ForegroundColor: headerForeground,
						},
					},
				},
				Fields: "userEnteredFormat(backgroundColor,textFormat)",
			},
		},
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:         sheetID,
					GridProperties:  &sheets.GridProperties{FrozenRowCount: 1},
					ForceSendFields: []string{"SheetId"},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}
}

// SpreadsheetURL returns the browser link of a spreadsheet.
func SpreadsheetURL(spreadsheetID string) string {
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit", spreadsheetID)
}
