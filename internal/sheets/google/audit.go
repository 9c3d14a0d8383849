// Package google appends ledger audit entries to a Google Sheets spreadsheet.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledger/internal/log"
	"ledger/internal/ports"
)

const defaultSheetName = "Audit"

var _ ports.AuditLog = (*AuditSink)(nil)

type Config struct {
	SpreadsheetID string
	// SheetName is a base name; entries go to "<year> <SheetName>".
	SheetName string
	// Inline service-account JSON takes precedence over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
}

type AuditSink struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	now           func() time.Time
	logger        *log.Logger
}

// New creates a sink authenticated with service-account credentials.
// Extra options are passed to the Sheets client.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*AuditSink, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	if len(opts) == 0 {
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = defaultSheetName
	}
	logger.InfoContext(ctx, "Google Sheets audit sink ready", "spreadsheet_id", cfg.SpreadsheetID, "sheet", base)
	return &AuditSink{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetBase:     base,
		now:           time.Now,
		logger:        logger,
	}, nil
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// LogAction appends one row: time, owner, action, entity, entity id, details.
func (s *AuditSink) LogAction(ctx context.Context, ownerID, action, entity, entityID string, details map[string]any) error {
	at := s.now().UTC()
	row, err := auditRow(at, ownerID, action, entity, entityID, details)
	if err != nil {
		return err
	}
	sheet := yearPrefixedName(s.sheetBase, at.Year())
	rng := fmt.Sprintf("%s!A:F", sheet)
	vr := &gsheet.ValueRange{Values: [][]any{row}}

	_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rng, vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append audit row to %s: %w", sheet, err)
	}
	s.logger.DebugContext(ctx, "Audit row appended", log.FieldOwner, ownerID, "action", action, "entity_id", entityID)
	return nil
}

func auditRow(at time.Time, ownerID, action, entity, entityID string, details map[string]any) ([]any, error) {
	d := ""
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("marshal audit details: %w", err)
		}
		d = string(b)
	}
	return []any{at.Format(time.RFC3339), ownerID, action, entity, entityID, d}, nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
