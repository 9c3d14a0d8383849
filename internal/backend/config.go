package backend

import (
	"fmt"

	"ledger/internal/config"
	"ledger/internal/sheets/google"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:         BackendType(appConfig.DataBackend),
		Audit:        BackendType(appConfig.Audit()),
		SQLiteDBPath: appConfig.SQLiteDBPath,
		Sheets: google.Config{
			SpreadsheetID:   appConfig.GoogleSpreadsheetID,
			SheetName:       appConfig.GoogleAuditSheetName,
			CredentialsJSON: appConfig.GoogleServiceAccountJSON,
			CredentialsFile: appConfig.GoogleServiceAccountFile,
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValidStore() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Audit == "" {
		c.Audit = c.Type
	}
	if !c.Audit.IsValidAudit() {
		return fmt.Errorf("invalid audit backend type: %s", c.Audit)
	}

	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite backend")
	}
	if c.Audit == SQLiteBackend && c.Type != SQLiteBackend {
		return fmt.Errorf("sqlite audit backend requires the sqlite data backend")
	}
	if c.Audit == SheetsBackend && c.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("Google Spreadsheet ID is required for the sheets audit backend")
	}
	return nil
}
