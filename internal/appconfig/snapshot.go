// Package appconfig serves the business configuration kept as documents in the
// app_config collection: credit packages, galleries, costs and shop copy.
package appconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/digkill/PhotoshootBot/internal/models"
)

const (
	TypeCreditPackages = "credit_packages"
	TypeShopMessages   = "shop_messages"
	TypeStyleTemplates = "style_templates"
	TypeModelTemplates = "model_templates"
	TypeServiceCosts   = "service_costs"
)

type Package struct {
	Label string `json:"label"`
	Price int    `json:"price"`
	Coins int    `json:"coins"`
	Index int    `json:"index"`
}

type Template struct {
	ID       string `bson:"id" json:"id"`
	Name     string `bson:"name" json:"name"`
	ImageURL string `bson:"image_url" json:"image_url"`
	Prompt   string `bson:"prompt" json:"prompt"`
}

// Snapshot is an immutable view of every app_config document at load time.
type Snapshot struct {
	Packages        []Package                 `json:"credit_packages"`
	ShopMessage     string                    `json:"shop_menu_message"`
	StyleTemplates  []Template                `json:"style_templates"`
	MaleTemplates   []Template                `json:"male_templates"`
	FemaleTemplates []Template                `json:"female_templates"`
	Costs           map[string]map[string]int `json:"service_costs"`
	LoadedAt        time.Time                 `json:"loaded_at"`
}

// Package returns the credit package offered under the given index.
func (s *Snapshot) Package(idx int) (Package, bool) {
	for _, p := range s.Packages {
		if p.Index == idx {
			return p, true
		}
	}
	return Package{}, false
}

// Templates returns the gallery shown for the service; modeling galleries are per gender.
func (s *Snapshot) Templates(service models.Service, gender models.Gender) []Template {
	if service != models.ServiceModeling {
		return s.StyleTemplates
	}
	if gender == models.GenderFemale {
		return s.FemaleTemplates
	}
	return s.MaleTemplates
}

func (s *Snapshot) Template(service models.Service, gender models.Gender, id string) (Template, bool) {
	for _, t := range s.Templates(service, gender) {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Cost returns service_costs[service][key] when configured with a positive value.
func (s *Snapshot) Cost(service models.Service, key string) (int, bool) {
	byMode, ok := s.Costs[string(service)]
	if !ok {
		return 0, false
	}
	cost, ok := byMode[key]
	if !ok || cost <= 0 {
		return 0, false
	}
	return cost, true
}

type document struct {
	Type            string                    `bson:"type"`
	CreditPackages  []bson.A                  `bson:"credit_packages,omitempty"`
	ShopMenuMessage string                    `bson:"shop_menu_message,omitempty"`
	StyleTemplates  []Template                `bson:"style_templates,omitempty"`
	MaleTemplates   []Template                `bson:"male_templates,omitempty"`
	FemaleTemplates []Template                `bson:"female_templates,omitempty"`
	ServiceCosts    map[string]map[string]int `bson:"service_costs,omitempty"`
}

// buildSnapshot folds documents into one snapshot. Fields are merged by name so a
// single document may carry several sections.
func buildSnapshot(docs []document, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{Costs: map[string]map[string]int{}, LoadedAt: now}
	for _, doc := range docs {
		for i, raw := range doc.CreditPackages {
			pkg, err := parsePackage(raw, i)
			if err != nil {
				return nil, fmt.Errorf("parse %s document: %w", doc.Type, err)
			}
			snap.Packages = append(snap.Packages, pkg)
		}
		if doc.ShopMenuMessage != "" {
			snap.ShopMessage = doc.ShopMenuMessage
		}
		snap.StyleTemplates = append(snap.StyleTemplates, doc.StyleTemplates...)
		snap.MaleTemplates = append(snap.MaleTemplates, doc.MaleTemplates...)
		snap.FemaleTemplates = append(snap.FemaleTemplates, doc.FemaleTemplates...)
		for service, byMode := range doc.ServiceCosts {
			if snap.Costs[service] == nil {
				snap.Costs[service] = map[string]int{}
			}
			for mode, cost := range byMode {
				snap.Costs[service][mode] = cost
			}
		}
	}
	return snap, nil
}

// parsePackage reads a [label, price, coins, index] entry. A missing index falls
// back to the entry position.
func parsePackage(raw bson.A, pos int) (Package, error) {
	if len(raw) < 3 {
		return Package{}, fmt.Errorf("credit package %d: want [label, price, coins, index], got %d fields", pos, len(raw))
	}
	label, ok := raw[0].(string)
	if !ok || strings.TrimSpace(label) == "" {
		return Package{}, fmt.Errorf("credit package %d: label must be a non-empty string", pos)
	}
	price, err := toInt(raw[1])
	if err != nil {
		return Package{}, fmt.Errorf("credit package %d price: %w", pos, err)
	}
	coins, err := toInt(raw[2])
	if err != nil {
		return Package{}, fmt.Errorf("credit package %d coins: %w", pos, err)
	}
	if price <= 0 || coins <= 0 {
		return Package{}, fmt.Errorf("credit package %d: price and coins must be positive", pos)
	}
	idx := pos
	if len(raw) > 3 {
		if idx, err = toInt(raw[3]); err != nil {
			return Package{}, fmt.Errorf("credit package %d index: %w", pos, err)
		}
	}
	return Package{Label: label, Price: price, Coins: coins, Index: idx}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", n, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", v)
	}
}
