package assets

import _ "embed"

// MerchantRules is the default ordered merchant classification table.
// Format: one "pattern|category|confidence" rule per line, first match wins.
//
//go:embed merchant_rules.txt
var MerchantRules []byte
