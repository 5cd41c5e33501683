package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ScenarioGenerator creates ledger and receipt CSV pairs with known answers.
// Every scenario directory holds ledger.csv, receipts.csv (the layout
// 'reconciler reconcile --receipts' reads) and expected.csv.
type ScenarioGenerator struct {
	Seed      int64
	OutputDir string

	rng      *rand.Rand
	baseDate time.Time
}

// Scenario is one generated dataset
type Scenario struct {
	Name     string
	Ledger   [][]string
	Receipts [][]string
	Expected [][]string
}

var vendors = []struct{ store, city string }{
	{"Cafe du Port", "Marseille"},
	{"Acme Corp", "Paris"},
	{"Boulangerie Paul", "Lyon"},
	{"Hardware Depot", "Nantes"},
	{"Green Grocer", "Lille"},
	{"Pharmacie Centrale", "Nice"},
	{"Book Corner", "Bordeaux"},
	{"Fuel Stop", "Toulouse"},
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated_scenarios", "Output directory for scenario files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		scenario  = flag.String("scenario", "all", "Scenario to generate: all, accuracy, same-day, nearby, vendors")
		count     = flag.Int("count", 50, "Number of receipts in the accuracy scenario")
	)
	flag.Parse()

	generator := NewScenarioGenerator(*seed, *outputDir)

	var scenarios []*Scenario
	switch *scenario {
	case "accuracy":
		scenarios = append(scenarios, generator.AccuracyScenario(*count))
	case "same-day":
		scenarios = append(scenarios, generator.SameDayScenario())
	case "nearby":
		scenarios = append(scenarios, generator.NearbyDateScenario())
	case "vendors":
		scenarios = append(scenarios, generator.VendorScenario())
	case "all":
		scenarios = generator.AllScenarios(*count)
	default:
		log.Fatalf("Unknown scenario: %s", *scenario)
	}

	for _, s := range scenarios {
		if err := generator.Write(s); err != nil {
			log.Fatalf("Failed to write scenario %s: %v", s.Name, err)
		}
	}

	fmt.Printf("Generated scenarios in %s\n", *outputDir)
	fmt.Printf("Seed used: %d\n", *seed)
}

// NewScenarioGenerator creates a generator; equal seeds give equal files
func NewScenarioGenerator(seed int64, outputDir string) *ScenarioGenerator {
	return &ScenarioGenerator{
		Seed:      seed,
		OutputDir: outputDir,
		rng:       rand.New(rand.NewSource(seed)),
		baseDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AllScenarios generates every predefined scenario
func (sg *ScenarioGenerator) AllScenarios(count int) []*Scenario {
	return []*Scenario{
		sg.AccuracyScenario(count),
		sg.SameDayScenario(),
		sg.NearbyDateScenario(),
		sg.VendorScenario(),
	}
}

// AccuracyScenario has one ledger entry per matching receipt, all with
// distinct amounts, plus a fifth as many receipts whose amount is nowhere
// in the ledger
func (sg *ScenarioGenerator) AccuracyScenario(count int) *Scenario {
	s := newScenario("accuracy")

	// cents are unique by construction so every amount appears once
	cents := sg.rng.Perm(count * 100)
	for i := 0; i < count; i++ {
		amount := decimal.New(int64(500+cents[i]), -2)
		purchased := sg.baseDate.AddDate(0, 0, sg.rng.Intn(28))
		posted := purchased.AddDate(0, 0, sg.rng.Intn(4))
		v := vendors[sg.rng.Intn(len(vendors))]
		file := fmt.Sprintf("receipt_%03d.jpg", i+1)

		row := s.addLedger(posted, amount, v.store+" "+v.city)
		s.addReceipt(file, purchased, v.store, v.city, amount)
		s.expect(file, row, "Exact Amount")
	}

	for i := 0; i < count/5; i++ {
		// above every ledger amount
		amount := decimal.New(int64(500+count*100+i+1), -2)
		file := fmt.Sprintf("unmatched_%03d.jpg", i+1)
		s.addReceipt(file, sg.baseDate.AddDate(0, 0, i%28), "Unknown Shop", "", amount)
		s.expect(file, -1, "No amount match")
	}

	return s
}

// SameDayScenario pairs two entries of the same amount on different days;
// the receipt date picks one
func (sg *ScenarioGenerator) SameDayScenario() *Scenario {
	s := newScenario("same_day")

	for i := 0; i < 5; i++ {
		amount := decimal.New(int64(2000+i*111), -2)
		day := sg.baseDate.AddDate(0, 0, i*3)
		v := vendors[i%len(vendors)]

		s.addLedger(day.AddDate(0, 0, 1), amount, v.store)
		row := s.addLedger(day, amount, v.store)

		file := fmt.Sprintf("same_day_%d.jpg", i+1)
		s.addReceipt(file, day, v.store, v.city, amount)
		s.expect(file, row, "Exact Amount/Date")
	}
	return s
}

// NearbyDateScenario pairs an entry posted inside the three day window with
// one posted well after it
func (sg *ScenarioGenerator) NearbyDateScenario() *Scenario {
	s := newScenario("nearby")

	for i := 0; i < 5; i++ {
		amount := decimal.New(int64(3000+i*77), -2)
		purchased := sg.baseDate.AddDate(0, 0, i*4)
		v := vendors[i%len(vendors)]

		row := s.addLedger(purchased.AddDate(0, 0, 1+i%3), amount, v.store)
		s.addLedger(purchased.AddDate(0, 0, 10), amount, v.store)

		file := fmt.Sprintf("nearby_%d.jpg", i+1)
		s.addReceipt(file, purchased, v.store, v.city, amount)
		s.expect(file, row, "Exact Amount / Nearby Date")
	}
	return s
}

// VendorScenario puts two same-day, same-amount entries side by side; only
// the vendor text tells them apart
func (sg *ScenarioGenerator) VendorScenario() *Scenario {
	s := newScenario("vendors")

	others := []string{"Lyon", "Lille", "Nice"}
	for i := 0; i < 3; i++ {
		amount := decimal.New(int64(4000+i*53), -2)
		day := sg.baseDate.AddDate(0, 0, i*5)

		s.addLedger(day, amount, "ACME CORP "+others[i])
		row := s.addLedger(day, amount, "ACME CORP PARIS")

		file := fmt.Sprintf("vendor_%d.jpg", i+1)
		s.addReceipt(file, day, "Acme Corp", "Paris", amount)
		s.expect(file, row, "Exact Amount/Date / Vendor Match (Token)")
	}
	return s
}

// Write writes the scenario's three CSV files
func (sg *ScenarioGenerator) Write(s *Scenario) error {
	dir := filepath.Join(sg.OutputDir, s.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	files := map[string][][]string{
		"ledger.csv":   s.Ledger,
		"receipts.csv": s.Receipts,
		"expected.csv": s.Expected,
	}
	for name, data := range files {
		if err := writeCSV(filepath.Join(dir, name), data); err != nil {
			return err
		}
	}

	fmt.Printf("  Created %s with %d ledger entries and %d receipts\n", s.Name, len(s.Ledger)-1, len(s.Receipts)-1)
	return nil
}

func newScenario(name string) *Scenario {
	return &Scenario{
		Name:     name,
		Ledger:   [][]string{{"date", "amount", "vendor"}},
		Receipts: [][]string{{"filename", "date_of_purchase", "name_of_store", "address", "total_price", "currency"}},
		Expected: [][]string{{"filename", "ledger_row", "match_type"}},
	}
}

// addLedger appends an entry and returns its zero-based row
func (s *Scenario) addLedger(date time.Time, amount decimal.Decimal, vendor string) int {
	s.Ledger = append(s.Ledger, []string{date.Format("2006-01-02"), amount.StringFixed(2), vendor})
	return len(s.Ledger) - 2
}

func (s *Scenario) addReceipt(file string, date time.Time, store, address string, amount decimal.Decimal) {
	s.Receipts = append(s.Receipts, []string{file, date.Format("2006-01-02"), store, address, amount.StringFixed(2), "EUR"})
}

// expect records the answer; row -1 means the receipt stays unassigned
func (s *Scenario) expect(file string, row int, matchType string) {
	s.Expected = append(s.Expected, []string{file, strconv.Itoa(row), matchType})
}

func writeCSV(path string, data [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
