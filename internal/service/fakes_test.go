package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/digkill/PhotoshootBot/internal/appconfig"
	"github.com/digkill/PhotoshootBot/internal/config"
	"github.com/digkill/PhotoshootBot/internal/fsm"
	"github.com/digkill/PhotoshootBot/internal/models"
	"github.com/digkill/PhotoshootBot/internal/repository"
	"github.com/digkill/PhotoshootBot/internal/zarinpal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memUsers struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newMemUsers(users ...models.User) *memUsers {
	m := &memUsers{users: map[int64]*models.User{}}
	for i := range users {
		u := users[i]
		m.users[u.ChatID] = &u
	}
	return m
}

func (m *memUsers) credits(chatID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[chatID]; ok {
		return u.Credits
	}
	return 0
}

func (m *memUsers) Ensure(_ context.Context, p repository.Profile, gift int, referredBy *int64) (*models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[p.ChatID]; ok {
		cp := *u
		return &cp, false, nil
	}
	u := &models.User{ChatID: p.ChatID, Username: p.Username, Credits: gift, ReferredBy: referredBy}
	m.users[p.ChatID] = u
	cp := *u
	return &cp, true, nil
}

func (m *memUsers) FindByChatID(_ context.Context, chatID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) AddCredits(_ context.Context, chatID int64, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[chatID]
	if !ok {
		return fmt.Errorf("user %d not found", chatID)
	}
	u.Credits += delta
	if u.Credits < 0 {
		u.Credits = 0
	}
	return nil
}

func (m *memUsers) ListChatIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memUsers) ListReferrals(_ context.Context, chatID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, u := range m.users {
		if u.ReferredBy != nil && *u.ReferredBy == chatID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// memGenerations emulates the guarded updates of the MySQL repository.
type memGenerations struct {
	mu    sync.Mutex
	users *memUsers
	rows  map[string]*models.Generation
	seq   int
	// updateErrs are returned, in order, by the next calls to Update.
	updateErrs []error
}

func newMemGenerations(users *memUsers) *memGenerations {
	return &memGenerations{users: users, rows: map[string]*models.Generation{}}
}

func (m *memGenerations) put(g models.Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		m.seq++
		g.CreatedAt = time.Unix(int64(m.seq), 0)
	}
	m.rows[g.ID] = &g
}

func (m *memGenerations) row(id string) models.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memGenerations) Create(_ context.Context, g *models.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	g.ID = fmt.Sprintf("gen-%d", m.seq)
	g.Status = models.StatusInit
	g.CreatedAt = time.Unix(int64(m.seq), 0)
	cp := *g
	m.rows[g.ID] = &cp
	return nil
}

func (m *memGenerations) GetForChat(_ context.Context, id string, chatID int64) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.rows[id]
	if !ok || g.ChatID != chatID {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memGenerations) GetByJobID(_ context.Context, jobID string) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.rows {
		if g.JobID == jobID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memGenerations) sorted(keep func(*models.Generation) bool, newestFirst bool) []models.Generation {
	var out []models.Generation
	for _, g := range m.rows {
		if keep(g) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *memGenerations) LatestOpen(_ context.Context, chatID int64) (*models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.sorted(func(g *models.Generation) bool {
		return g.ChatID == chatID && fsm.Open(g.Status)
	}, true)
	if len(open) == 0 {
		return nil, nil
	}
	return &open[0], nil
}

func (m *memGenerations) ListByChat(_ context.Context, chatID int64, limit int) ([]models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(g *models.Generation) bool {
		return g.ChatID == chatID && g.Status != models.StatusInit
	}, true)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memGenerations) ListQueued(_ context.Context, limit int) ([]models.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(g *models.Generation) bool { return g.Status == models.StatusInQueue }, false)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memGenerations) CountByStatus(_ context.Context, chatID int64, status models.Status, excludeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.rows {
		if g.ChatID == chatID && g.Status == status && g.ID != excludeID {
			n++
		}
	}
	return n, nil
}

func (m *memGenerations) Update(_ context.Context, g *models.Generation, from models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		return err
	}
	cur, ok := m.rows[g.ID]
	if !ok || cur.Status != from {
		return repository.ErrStaleStatus
	}
	next := *g
	next.Cost = cur.Cost
	next.Refunded = cur.Refunded
	next.CreatedAt = cur.CreatedAt
	m.rows[g.ID] = &next
	return nil
}

func (m *memGenerations) Enqueue(_ context.Context, g *models.Generation, from models.Status, cost int, singleQueued bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users.mu.Lock()
	defer m.users.mu.Unlock()
	u, ok := m.users.users[g.ChatID]
	if !ok {
		return 0, repository.ErrInsufficientCredits
	}
	if singleQueued {
		for _, other := range m.rows {
			if other.ChatID == g.ChatID && other.Status == g.Status && other.ID != g.ID {
				return 0, repository.ErrQueueLimit
			}
		}
	}
	cur, ok := m.rows[g.ID]
	if !ok || cur.Status != from || cur.Cost != nil {
		return 0, repository.ErrStaleStatus
	}
	if u.Credits < cost {
		return 0, repository.ErrInsufficientCredits
	}
	u.Credits -= cost
	next := *g
	next.Cost = &cost
	next.Error = ""
	next.CreatedAt = cur.CreatedAt
	m.rows[g.ID] = &next
	*g = next
	return u.Credits, nil
}

func (m *memGenerations) Release(_ context.Context, g *models.Generation, from models.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[g.ID]
	if !ok || cur.Status != from {
		return 0, repository.ErrStaleStatus
	}
	refund := 0
	if cur.Cost != nil && !cur.Refunded {
		refund = *cur.Cost
	}
	next := *g
	next.Cost = cur.Cost
	next.CreatedAt = cur.CreatedAt
	next.Refunded = cur.Refunded || refund > 0
	if refund > 0 {
		m.users.mu.Lock()
		if u, ok := m.users.users[g.ChatID]; ok {
			u.Credits += refund
		}
		m.users.mu.Unlock()
	}
	m.rows[g.ID] = &next
	*g = next
	return refund, nil
}

type memPayments struct {
	mu    sync.Mutex
	users *memUsers
	rows  map[string]*models.Payment
	seq   int
}

func newMemPayments(users *memUsers) *memPayments {
	return &memPayments{users: users, rows: map[string]*models.Payment{}}
}

func (m *memPayments) row(id string) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memPayments) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p.ID = fmt.Sprintf("pay-%d", m.seq)
	p.Status = models.PaymentInitiated
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memPayments) GetForChat(_ context.Context, id string, chatID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.ChatID != chatID {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) GetByAuthority(_ context.Context, authority string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.Authority == authority {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPayments) Complete(_ context.Context, p *models.Payment, refID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[p.ID]
	if !ok {
		return false, errors.New("payment not found")
	}
	switch cur.Status {
	case models.PaymentCompleted:
		*p = *cur
		return false, nil
	case models.PaymentFailed:
		return false, repository.ErrPaymentFailed
	}
	cur.Status = models.PaymentCompleted
	cur.TransactionID = refID
	m.users.mu.Lock()
	if u, ok := m.users.users[cur.ChatID]; ok {
		u.Credits += cur.PackageCoins
		u.Paid = true
	}
	m.users.mu.Unlock()
	*p = *cur
	return true, nil
}

func (m *memPayments) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok && p.Status == models.PaymentInitiated {
		p.Status = models.PaymentFailed
	}
	return nil
}

type fakePhotos struct {
	err error
}

func (f *fakePhotos) FetchPhoto(context.Context, string) ([]byte, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("jpeg"), "photo.jpg", nil
}

type fakeUploader struct {
	calls int
	err   error
}

func (f *fakeUploader) Upload(context.Context, []byte, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/products/photo.jpg", nil
}

type fakePrompts struct {
	err error
}

func (f *fakePrompts) FromText(_ context.Context, description string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "studio shot: " + description, nil
}

func (f *fakePrompts) FromImage(_ context.Context, description, imageURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "auto shot of " + imageURL + ": " + description, nil
}

type fakeImages struct {
	mu      sync.Mutex
	err     error
	prompts []string
}

func (f *fakeImages) Submit(_ context.Context, prompt, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, prompt)
	return fmt.Sprintf("job-%d", len(f.prompts)), nil
}

func (f *fakeImages) Model() string { return "black-forest-labs/flux-kontext-pro" }

type sentMessage struct {
	chatID int64
	text   string
	photo  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) SendText(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeNotifier) SendPhoto(_ context.Context, chatID int64, photoURL, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: caption, photo: photoURL})
	return nil
}

type fakeGateway struct {
	session  *zarinpal.Session
	result   *zarinpal.VerifyResult
	err      error
	verifies int
}

func (f *fakeGateway) Create(context.Context, int, string) (*zarinpal.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeGateway) Verify(context.Context, string, int) (*zarinpal.VerifyResult, error) {
	f.verifies++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testCatalog() *appconfig.Static {
	return appconfig.NewStatic(&appconfig.Snapshot{
		Packages: []appconfig.Package{
			{Label: "10 credits", Price: 100000, Coins: 10, Index: 0},
			{Label: "50 credits", Price: 400000, Coins: 50, Index: 1},
		},
		ShopMessage: "Pick a package",
		StyleTemplates: []appconfig.Template{
			{ID: "marble", Name: "Marble", ImageURL: "https://cdn.example.com/marble.jpg", Prompt: "{product_name} on white marble"},
		},
		MaleTemplates: []appconfig.Template{
			{ID: "street", Name: "Street", Prompt: "a man holding {product_name} on a street"},
		},
		FemaleTemplates: []appconfig.Template{
			{ID: "studio", Name: "Studio", Prompt: "a woman presenting {product_name}"},
		},
		Costs: map[string]map[string]int{
			"photoshoot": {"template": 1, "manual": 2},
		},
	})
}

func testConfig() config.Config {
	return config.Config{DefaultGenerationCost: 1, DispatchBatch: 10}
}
