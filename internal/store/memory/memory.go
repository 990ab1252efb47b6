// Package memory is the purely local store used for offline and demo
// operation. Nothing survives a restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"stars/internal/core"
	"stars/internal/store"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type state struct {
	children    map[string]core.Child
	templates   map[string]core.TaskTemplate
	rewards     map[string]core.Reward
	submissions map[string]core.TaskSubmission
	proposals   map[string]core.TaskProposal
	redemptions map[string]core.RewardRedemption

	// txns is append-only; earnBySubmission indexes it.
	txns             []core.StarTransaction
	earnBySubmission map[string]int
	seq              int64
}

func newState() state {
	return state{
		children:         map[string]core.Child{},
		templates:        map[string]core.TaskTemplate{},
		rewards:          map[string]core.Reward{},
		submissions:      map[string]core.TaskSubmission{},
		proposals:        map[string]core.TaskProposal{},
		redemptions:      map[string]core.RewardRedemption{},
		earnBySubmission: map[string]int{},
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies the maps. The ledger slice is capped so an append inside the
// transaction reallocates instead of writing into the committed array.
func (s state) clone() state {
	return state{
		children:         cloneMap(s.children),
		templates:        cloneMap(s.templates),
		rewards:          cloneMap(s.rewards),
		submissions:      cloneMap(s.submissions),
		proposals:        cloneMap(s.proposals),
		redemptions:      cloneMap(s.redemptions),
		txns:             s.txns[:len(s.txns):len(s.txns)],
		earnBySubmission: cloneMap(s.earnBySubmission),
		seq:              s.seq,
	}
}

// Store keeps all records in process memory. Writers are serialised by one
// mutex, which is a superset of the per-child exclusion the ledger needs.
type Store struct {
	mu       sync.RWMutex
	state    state
	hub      *store.Hub
	exported map[string]time.Time
	closed   bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), hub: store.NewHub(), exported: map[string]time.Time{}}
}

// Update runs fn against a private copy of the state and swaps it in only
// when fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	t := &tx{state: s.state.clone(), writable: true}
	if err := fn(t); err != nil {
		return err
	}
	s.state = t.state
	s.hub.Publish(t.changes...)
	return nil
}

// View runs fn under the read lock; fn sees no concurrent writes.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return fn(&tx{state: s.state})
}

func (s *Store) Subscribe(ctx context.Context, f store.Filter) (<-chan store.Change, error) {
	return s.hub.Subscribe(ctx, f)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.hub.Close()
	return nil
}

// PendingExports returns up to limit ledger records not yet marked
// exported, oldest first.
func (s *Store) PendingExports(_ context.Context, limit int) ([]core.StarTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.StarTransaction
	for _, st := range s.state.txns {
		if _, ok := s.exported[st.ID]; ok {
			continue
		}
		out = append(out, st)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, transactionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exported[transactionID]; !ok {
		s.exported[transactionID] = at
	}
	return nil
}

func (s *Store) Exported(_ context.Context, transactionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.exported[transactionID]
	return ok, nil
}

type tx struct {
	state    state
	writable bool
	changes  []store.Change
}

func (t *tx) record(entity store.Entity, op store.Op, id, familyID, childID string) {
	t.changes = append(t.changes, store.Change{
		Entity:   entity,
		Op:       op,
		ID:       id,
		FamilyID: familyID,
		ChildID:  childID,
		At:       time.Now().UTC(),
	})
}

func (t *tx) checkWrite() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// ─── Ledger ──────────────────────────────────────────────────────────────────

func (t *tx) InsertTransaction(_ context.Context, st core.StarTransaction) (core.StarTransaction, error) {
	if err := t.checkWrite(); err != nil {
		return core.StarTransaction{}, err
	}
	if err := st.Validate(); err != nil {
		return core.StarTransaction{}, err
	}
	for _, existing := range t.state.txns {
		if existing.ID == st.ID {
			return core.StarTransaction{}, fmt.Errorf("transaction %s: %w", st.ID, store.ErrDuplicate)
		}
	}
	if st.Kind == core.KindEarn {
		if _, ok := t.state.earnBySubmission[st.SourceSubmissionID]; ok {
			return core.StarTransaction{}, fmt.Errorf("earn for submission %s: %w", st.SourceSubmissionID, store.ErrDuplicate)
		}
	}

	t.state.seq++
	st.Seq = t.state.seq
	t.state.txns = append(t.state.txns, st)
	if st.Kind == core.KindEarn {
		t.state.earnBySubmission[st.SourceSubmissionID] = len(t.state.txns) - 1
	}
	t.record(store.EntityTransaction, store.OpCreate, st.ID, st.FamilyID, st.ChildID)
	return st, nil
}

func (t *tx) GetTransaction(_ context.Context, id string) (core.StarTransaction, error) {
	for _, st := range t.state.txns {
		if st.ID == id {
			return st, nil
		}
	}
	return core.StarTransaction{}, notFound("transaction", id)
}

func (t *tx) EarnBySubmission(_ context.Context, submissionID string) (core.StarTransaction, error) {
	idx, ok := t.state.earnBySubmission[submissionID]
	if !ok {
		return core.StarTransaction{}, notFound("earn for submission", submissionID)
	}
	return t.state.txns[idx], nil
}

func (t *tx) SumTransactions(_ context.Context, childID string) (int64, int64, error) {
	var earned, redeemed int64
	for _, st := range t.state.txns {
		if st.ChildID != childID {
			continue
		}
		switch st.Kind {
		case core.KindEarn:
			earned += st.Amount
		case core.KindRedeem:
			redeemed += st.Amount
		}
	}
	return earned, redeemed, nil
}

func (t *tx) ListTransactions(_ context.Context, q store.TransactionQuery) ([]core.StarTransaction, error) {
	var out []core.StarTransaction
	for _, st := range t.state.txns {
		if q.Match(st) {
			out = append(out, st)
			if q.Limit > 0 && len(out) == q.Limit {
				break
			}
		}
	}
	return out, nil
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

func (t *tx) InsertChild(_ context.Context, c core.Child) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.children[c.ID]; ok {
		return fmt.Errorf("child %s: %w", c.ID, store.ErrDuplicate)
	}
	t.state.children[c.ID] = c
	t.record(store.EntityChild, store.OpCreate, c.ID, c.FamilyID, c.ID)
	return nil
}

func (t *tx) GetChild(_ context.Context, id string) (core.Child, error) {
	c, ok := t.state.children[id]
	if !ok {
		return core.Child{}, notFound("child", id)
	}
	return c, nil
}

func (t *tx) LockChild(ctx context.Context, id string) (core.Child, error) {
	return t.GetChild(ctx, id)
}

func (t *tx) ListChildren(_ context.Context, familyID string) ([]core.Child, error) {
	var out []core.Child
	for _, c := range t.state.children {
		if c.FamilyID == familyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) InsertTemplate(_ context.Context, tt core.TaskTemplate) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := tt.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.templates[tt.ID]; ok {
		return fmt.Errorf("template %s: %w", tt.ID, store.ErrDuplicate)
	}
	t.state.templates[tt.ID] = tt
	t.record(store.EntityTemplate, store.OpCreate, tt.ID, tt.FamilyID, "")
	return nil
}

func (t *tx) UpdateTemplate(_ context.Context, tt core.TaskTemplate) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := tt.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.templates[tt.ID]; !ok {
		return notFound("template", tt.ID)
	}
	t.state.templates[tt.ID] = tt
	t.record(store.EntityTemplate, store.OpUpdate, tt.ID, tt.FamilyID, "")
	return nil
}

func (t *tx) DeleteTemplate(_ context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	tt, ok := t.state.templates[id]
	if !ok {
		return notFound("template", id)
	}
	delete(t.state.templates, id)
	t.record(store.EntityTemplate, store.OpDelete, id, tt.FamilyID, "")
	return nil
}

func (t *tx) GetTemplate(_ context.Context, id string) (core.TaskTemplate, error) {
	tt, ok := t.state.templates[id]
	if !ok {
		return core.TaskTemplate{}, notFound("template", id)
	}
	return tt, nil
}

func (t *tx) ListTemplates(_ context.Context, familyID string, activeOnly bool) ([]core.TaskTemplate, error) {
	var out []core.TaskTemplate
	for _, tt := range t.state.templates {
		if tt.FamilyID != familyID || (activeOnly && !tt.Active) {
			continue
		}
		out = append(out, tt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (t *tx) TemplateReferenced(_ context.Context, id string) (bool, error) {
	for _, s := range t.state.submissions {
		if s.TemplateID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertReward(_ context.Context, r core.Reward) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.rewards[r.ID]; ok {
		return fmt.Errorf("reward %s: %w", r.ID, store.ErrDuplicate)
	}
	t.state.rewards[r.ID] = r
	t.record(store.EntityReward, store.OpCreate, r.ID, r.FamilyID, "")
	return nil
}

func (t *tx) UpdateReward(_ context.Context, r core.Reward) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.rewards[r.ID]; !ok {
		return notFound("reward", r.ID)
	}
	t.state.rewards[r.ID] = r
	t.record(store.EntityReward, store.OpUpdate, r.ID, r.FamilyID, "")
	return nil
}

func (t *tx) DeleteReward(_ context.Context, id string) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	r, ok := t.state.rewards[id]
	if !ok {
		return notFound("reward", id)
	}
	delete(t.state.rewards, id)
	t.record(store.EntityReward, store.OpDelete, id, r.FamilyID, "")
	return nil
}

func (t *tx) GetReward(_ context.Context, id string) (core.Reward, error) {
	r, ok := t.state.rewards[id]
	if !ok {
		return core.Reward{}, notFound("reward", id)
	}
	return r, nil
}

func (t *tx) ListRewards(_ context.Context, familyID string, activeOnly bool) ([]core.Reward, error) {
	var out []core.Reward
	for _, r := range t.state.rewards {
		if r.FamilyID != familyID || (activeOnly && !r.Active) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost == out[j].Cost {
			return out[i].ID < out[j].ID
		}
		return out[i].Cost < out[j].Cost
	})
	return out, nil
}

func (t *tx) RewardReferenced(_ context.Context, id string) (bool, error) {
	for _, r := range t.state.redemptions {
		if r.RewardID == id {
			return true, nil
		}
	}
	return false, nil
}

// ─── Workflows ───────────────────────────────────────────────────────────────

func (t *tx) InsertSubmission(_ context.Context, s core.TaskSubmission) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.submissions[s.ID]; ok {
		return fmt.Errorf("submission %s: %w", s.ID, store.ErrDuplicate)
	}
	t.state.submissions[s.ID] = s
	t.record(store.EntitySubmission, store.OpCreate, s.ID, s.FamilyID, s.ChildID)
	return nil
}

func (t *tx) UpdateSubmission(_ context.Context, s core.TaskSubmission, expected core.SubmissionStatus) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	cur, ok := t.state.submissions[s.ID]
	if !ok {
		return notFound("submission", s.ID)
	}
	if cur.Status != expected {
		return fmt.Errorf("submission %s is %s, expected %s: %w", s.ID, cur.Status, expected, store.ErrConflict)
	}
	t.state.submissions[s.ID] = s
	t.record(store.EntitySubmission, store.OpUpdate, s.ID, s.FamilyID, s.ChildID)
	return nil
}

func (t *tx) GetSubmission(_ context.Context, id string) (core.TaskSubmission, error) {
	s, ok := t.state.submissions[id]
	if !ok {
		return core.TaskSubmission{}, notFound("submission", id)
	}
	return s, nil
}

func (t *tx) ListSubmissions(_ context.Context, q store.Query) ([]core.TaskSubmission, error) {
	var out []core.TaskSubmission
	for _, s := range t.state.submissions {
		if q.Match(s.FamilyID, s.ChildID, string(s.Status)) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, q.Limit), nil
}

func cloneProposal(p core.TaskProposal) core.TaskProposal {
	if p.AgreedStars != nil {
		v := *p.AgreedStars
		p.AgreedStars = &v
	}
	return p
}

func (t *tx) InsertProposal(_ context.Context, p core.TaskProposal) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.proposals[p.ID]; ok {
		return fmt.Errorf("proposal %s: %w", p.ID, store.ErrDuplicate)
	}
	t.state.proposals[p.ID] = cloneProposal(p)
	t.record(store.EntityProposal, store.OpCreate, p.ID, p.FamilyID, p.ChildID)
	return nil
}

func (t *tx) UpdateProposal(_ context.Context, p core.TaskProposal, expected core.ProposalStatus) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	cur, ok := t.state.proposals[p.ID]
	if !ok {
		return notFound("proposal", p.ID)
	}
	if cur.Status != expected {
		return fmt.Errorf("proposal %s is %s, expected %s: %w", p.ID, cur.Status, expected, store.ErrConflict)
	}
	t.state.proposals[p.ID] = cloneProposal(p)
	t.record(store.EntityProposal, store.OpUpdate, p.ID, p.FamilyID, p.ChildID)
	return nil
}

func (t *tx) GetProposal(_ context.Context, id string) (core.TaskProposal, error) {
	p, ok := t.state.proposals[id]
	if !ok {
		return core.TaskProposal{}, notFound("proposal", id)
	}
	return cloneProposal(p), nil
}

func (t *tx) ListProposals(_ context.Context, q store.Query) ([]core.TaskProposal, error) {
	var out []core.TaskProposal
	for _, p := range t.state.proposals {
		if q.Match(p.FamilyID, p.ChildID, string(p.Status)) {
			out = append(out, cloneProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limit(out, q.Limit), nil
}

func (t *tx) InsertRedemption(_ context.Context, r core.RewardRedemption) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := t.state.redemptions[r.ID]; ok {
		return fmt.Errorf("redemption %s: %w", r.ID, store.ErrDuplicate)
	}
	t.state.redemptions[r.ID] = r
	t.record(store.EntityRedemption, store.OpCreate, r.ID, r.FamilyID, r.ChildID)
	return nil
}

func (t *tx) UpdateRedemption(_ context.Context, r core.RewardRedemption, expected core.RedemptionStatus) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return err
	}
	cur, ok := t.state.redemptions[r.ID]
	if !ok {
		return notFound("redemption", r.ID)
	}
	if cur.Status != expected {
		return fmt.Errorf("redemption %s is %s, expected %s: %w", r.ID, cur.Status, expected, store.ErrConflict)
	}
	t.state.redemptions[r.ID] = r
	t.record(store.EntityRedemption, store.OpUpdate, r.ID, r.FamilyID, r.ChildID)
	return nil
}

func (t *tx) GetRedemption(_ context.Context, id string) (core.RewardRedemption, error) {
	r, ok := t.state.redemptions[id]
	if !ok {
		return core.RewardRedemption{}, notFound("redemption", id)
	}
	return r, nil
}

func (t *tx) ListRedemptions(_ context.Context, q store.Query) ([]core.RewardRedemption, error) {
	var out []core.RewardRedemption
	for _, r := range t.state.redemptions {
		if q.Match(r.FamilyID, r.ChildID, string(r.Status)) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RedeemedAt.Equal(out[j].RedeemedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RedeemedAt.After(out[j].RedeemedAt)
	})
	return limit(out, q.Limit), nil
}
