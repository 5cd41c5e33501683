// Package matcher assigns receipts to ledger entries.
//
// Each receipt walks a fixed cascade over the entries that are still
// unassigned:
//  1. Exact amount filter
//  2. Exact date among the amount matches
//  3. Forward date window (ledger date <= purchase date + tolerance)
//  4. Vendor similarity over the pool the earlier tiers left ambiguous
//
// The first tier that isolates a single entry wins. Receipts are processed
// in the order given, so earlier receipts have first claim on contested
// entries.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateToleranceDays = 5
//
//	engine, err := matcher.NewEngine(config, similarity.NewTokenScorer())
//	result, err := engine.Reconcile(ctx, ledger, receipts)
package matcher

import (
	"fmt"
)

// MatchingConfig holds configuration parameters for the cascade
type MatchingConfig struct {
	// DateToleranceDays is how many days after the purchase date a ledger
	// entry may be posted and still count as a nearby date
	DateToleranceDays int `json:"date_tolerance_days" mapstructure:"date_tolerance_days"`

	// VendorMatchThreshold is the minimum similarity score (0-100) for a
	// vendor match
	VendorMatchThreshold float64 `json:"vendor_match_threshold" mapstructure:"vendor_match_threshold"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:    3,
		VendorMatchThreshold: 75,
	}
}

// StrictMatchingConfig returns a configuration that only accepts same-day
// dates and close vendor names
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:    0,
		VendorMatchThreshold: 90,
	}
}

// RelaxedMatchingConfig returns a configuration for slow-posting banks and
// noisy scans
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateToleranceDays:    7,
		VendorMatchThreshold: 60,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", mc.DateToleranceDays)
	}

	if mc.VendorMatchThreshold < 0 || mc.VendorMatchThreshold > 100 {
		return fmt.Errorf("vendor match threshold must be between 0 and 100: %.2f", mc.VendorMatchThreshold)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	return &clone
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateTolerance: %d days, VendorThreshold: %.2f}",
		mc.DateToleranceDays, mc.VendorMatchThreshold)
}
