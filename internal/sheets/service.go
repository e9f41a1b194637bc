// Package sheets shares capture text by appending it to a Google Sheet.
package sheets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"snapcapture/internal/logger"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

var headers = []interface{}{"Shared At", "Title", "Text"}

// Service appends shared text to one worksheet of a spreadsheet.
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time
	log           zerolog.Logger

	mu    sync.Mutex
	ready bool
}

// NewSheetsService creates a Sheets-backed sharer for sheetURL using the
// service account in GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS.
func NewSheetsService(ctx context.Context, sheetURL, sheetName string) (*Service, error) {
	const op = "NewSheetsService"

	var creds []byte
	var err error
	if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		creds, err = os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	return NewService(ctx, sheetURL, sheetName, option.WithHTTPClient(config.Client(ctx)))
}

// NewService creates a sharer with explicit client options.
func NewService(ctx context.Context, sheetURL, sheetName string, opts ...option.ClientOption) (*Service, error) {
	const op = "NewService"

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to extract spreadsheet ID: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	log := logger.WithComponent("sheets")
	log.Debug().Str("spreadsheet_id", spreadsheetID).Str("sheet", sheetName).Msg("Sheets share target ready")

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		now:           time.Now,
		log:           log,
	}, nil
}

func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDPattern.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("invalid Google Sheets URL format")
	}
	return matches[1], nil
}

// Share appends one row: share time, title and text. Text is stored as
// entered, never interpreted as a formula.
func (s *Service) Share(ctx context.Context, title, text string) error {
	const op = "Share"

	if err := s.ensureSheet(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{{s.now().Format(time.RFC3339), title, text}},
	}
	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A:C",
		valueRange,
	).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append row: %w", op, err)
	}

	s.log.Info().Str("sheet", s.sheetName).Int("chars", len(text)).Msg("Shared text to Google Sheet")
	return nil
}

// ensureSheet creates the worksheet and its header row on first use.
func (s *Service) ensureSheet(ctx context.Context) error {
	const op = "ensureSheet"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetID int64
	exists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			exists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !exists {
		s.log.Info().Str("sheet", s.sheetName).Msg("Creating new sheet")
		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.sheetName}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := s.sheetName + "!A1:C1"
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		_, err = s.sheetsService.Spreadsheets.Values.Update(
			s.spreadsheetID,
			headerRange,
			&sheets.ValueRange{Values: [][]interface{}{headers}},
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}
		if err := s.formatHeaders(ctx, sheetID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
		}
	}

	s.ready = true
	return nil
}

// formatHeaders freezes the header row, bolds it and wraps the text column.
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	header := &sheets.GridRange{SheetId: sheetID, EndRowIndex: 1, EndColumnIndex: int64(len(headers))}
	textColumn := &sheets.GridRange{SheetId: sheetID, StartRowIndex: 1, StartColumnIndex: 2, EndColumnIndex: 3}

	_, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId:        sheetID,
					GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
				},
				Fields: "gridProperties.frozenRowCount",
			}},
			{RepeatCell: &sheets.RepeatCellRequest{
				Range:  header,
				Cell:   &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{TextFormat: &sheets.TextFormat{Bold: true}}},
				Fields: "userEnteredFormat.textFormat.bold",
			}},
			{RepeatCell: &sheets.RepeatCellRequest{
				Range:  textColumn,
				Cell:   &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{WrapStrategy: "WRAP"}},
				Fields: "userEnteredFormat.wrapStrategy",
			}},
		},
	}).Context(ctx).Do()
	return err
}
