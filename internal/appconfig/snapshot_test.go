package appconfig

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/digkill/PhotoshootBot/internal/models"
)

func TestParsePackage(t *testing.T) {
	tests := []struct {
		desc    string
		raw     bson.A
		pos     int
		want    Package
		wantErr bool
	}{
		{"int32 fields", bson.A{"10 credits", int32(50000), int32(10), int32(0)}, 0, Package{"10 credits", 50000, 10, 0}, false},
		{"doubles from json", bson.A{"50 credits", 200000.0, 50.0, 1.0}, 1, Package{"50 credits", 200000, 50, 1}, false},
		{"missing index uses position", bson.A{"5 credits", int64(30000), int64(5)}, 2, Package{"5 credits", 30000, 5, 2}, false},
		{"numeric strings", bson.A{"1 credit", "7000", "1", "3"}, 3, Package{"1 credit", 7000, 1, 3}, false},
		{"too short", bson.A{"x", 1}, 0, Package{}, true},
		{"empty label", bson.A{"", 1, 1, 0}, 0, Package{}, true},
		{"fractional price", bson.A{"x", 1.5, 1, 0}, 0, Package{}, true},
		{"zero coins", bson.A{"x", 100, 0, 0}, 0, Package{}, true},
		{"bool price", bson.A{"x", true, 1, 0}, 0, Package{}, true},
	}

	for _, tt := range tests {
		got, err := parsePackage(tt.raw, tt.pos)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.desc, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.desc, got, tt.want)
		}
	}
}

func TestBuildSnapshotMergesDocuments(t *testing.T) {
	docs := []document{
		{Type: TypeCreditPackages, CreditPackages: []bson.A{{"10 credits", int32(50000), int32(10), int32(0)}}},
		{Type: TypeShopMessages, ShopMenuMessage: "Pick a package"},
		{Type: TypeStyleTemplates, StyleTemplates: []Template{{ID: "studio", Name: "Studio", Prompt: "{product_name} on white"}}},
		{Type: TypeModelTemplates,
			MaleTemplates:   []Template{{ID: "m1", Prompt: "man holding product"}},
			FemaleTemplates: []Template{{ID: "f1", Prompt: "woman holding product"}},
		},
		{Type: TypeServiceCosts, ServiceCosts: map[string]map[string]int{
			"photoshoot": {"template": 1, "manual": 2, "automatic": 0},
			"modeling":   {"template": 3},
		}},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	snap, err := buildSnapshot(docs, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !snap.LoadedAt.Equal(now) {
		t.Errorf("loaded at = %v", snap.LoadedAt)
	}
	if p, ok := snap.Package(0); !ok || p.Coins != 10 {
		t.Errorf("package 0 = %+v, %v", p, ok)
	}
	if _, ok := snap.Package(7); ok {
		t.Error("unknown package index resolved")
	}
	if snap.ShopMessage != "Pick a package" {
		t.Errorf("shop message = %q", snap.ShopMessage)
	}
	if tpl, ok := snap.Template(models.ServicePhotoshoot, "", "studio"); !ok || tpl.Name != "Studio" {
		t.Errorf("style template = %+v, %v", tpl, ok)
	}
	if _, ok := snap.Template(models.ServiceModeling, models.GenderMale, "f1"); ok {
		t.Error("female template found in male gallery")
	}
	if tpl, ok := snap.Template(models.ServiceModeling, models.GenderFemale, "f1"); !ok || tpl.Prompt != "woman holding product" {
		t.Errorf("female template = %+v, %v", tpl, ok)
	}

	costs := []struct {
		desc    string
		service models.Service
		key     string
		want    int
		ok      bool
	}{
		{"manual", models.ServicePhotoshoot, "manual", 2, true},
		{"modeling", models.ServiceModeling, "template", 3, true},
		{"zero is unset", models.ServicePhotoshoot, "automatic", 0, false},
		{"missing key", models.ServiceModeling, "manual", 0, false},
	}
	for _, tt := range costs {
		got, ok := snap.Cost(tt.service, tt.key)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: got %d,%v want %d,%v", tt.desc, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildSnapshotRejectsBadPackage(t *testing.T) {
	docs := []document{{Type: TypeCreditPackages, CreditPackages: []bson.A{{"broken"}}}}
	if _, err := buildSnapshot(docs, time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStaticDefaultsCosts(t *testing.T) {
	src := NewStatic(&Snapshot{})
	if _, ok := src.Current().Cost(models.ServicePhotoshoot, "manual"); ok {
		t.Fatal("empty snapshot reported a cost")
	}
}
