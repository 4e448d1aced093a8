package memory

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cashbook/internal/core"
	"cashbook/internal/ports"
)

// Ensure interface conformance
var _ ports.Store = (*Store)(nil)

type Store struct {
	mu       sync.Mutex
	cats     []core.Category
	balances map[string]core.Balance
	items    map[string]core.Transaction
}

func New(cats []core.Category) *Store {
	return &Store{
		cats:     dedupe(cats),
		balances: make(map[string]core.Balance),
		items:    make(map[string]core.Transaction),
	}
}

// DefaultCategories is the seed used when no category file is present.
func DefaultCategories() []core.Category {
	return []core.Category{
		{Name: "Food", Type: core.Expense, Color: "#EF4444"},
		{Name: "Transport", Type: core.Expense, Color: "#F59E0B"},
		{Name: "Shopping", Type: core.Expense, Color: "#8B5CF6"},
		{Name: "Bills", Type: core.Expense, Color: "#3B82F6"},
		{Name: "Salary", Type: core.Income, Color: "#10B981"},
		{Name: "Freelance", Type: core.Income, Color: "#14B8A6"},
	}
}

// NewFromFiles seeds categories from base/seed_categories.txt. Each line is
// "type:name[:color]"; blank lines and # comments are skipped.
func NewFromFiles(base string) *Store {
	cats := readCategories(filepath.Join(base, "seed_categories.txt"))
	if len(cats) == 0 {
		cats = DefaultCategories()
	}
	return New(cats)
}

func (s *Store) GetBalances(_ context.Context, userID string) (core.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *Store) UpdateBalances(_ context.Context, userID string, b core.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = b
	return nil
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, ports.ErrNotFound
	}
	return tx, nil
}

// InsertTransaction stores the transaction keyed by its id.
func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[tx.ID] = tx
	return nil
}

func (s *Store) UpdateTransaction(_ context.Context, userID, id string, amount core.Money, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.UserID != userID {
		return ports.ErrNotFound
	}
	tx.Amount = amount
	tx.Description = description
	s.items[id] = tx
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.items[id]
	if !ok || tx.UserID != userID {
		return ports.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, filter ports.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.items {
		if tx.UserID == userID && filter.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) ListCategories(_ context.Context, t core.TxType) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Category
	for _, c := range s.cats {
		if c.Type == t {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readCategories(path string) []core.Category {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []core.Category
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 {
			continue
		}
		t, err := core.ParseTxType(parts[0])
		if err != nil {
			continue
		}
		c := core.Category{Name: strings.TrimSpace(parts[1]), Type: t}
		if len(parts) == 3 {
			c.Color = strings.TrimSpace(parts[2])
		}
		out = append(out, c)
	}
	return dedupe(out)
}

// dedupe drops blank and repeated (type, name) pairs and assigns ids.
func dedupe(in []core.Category) []core.Category {
	seen := map[string]struct{}{}
	out := make([]core.Category, 0, len(in))
	for _, c := range in {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		key := string(c.Type) + "/" + c.Name
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if c.ID == "" {
			c.ID = "cat-" + strconv.Itoa(len(out)+1)
		}
		out = append(out, c)
	}
	return out
}
