package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fleetdesk/internal/model"
	"github.com/hitoshi/fleetdesk/internal/realtime"
	"github.com/hitoshi/fleetdesk/internal/repository"
	"github.com/hitoshi/fleetdesk/internal/session"
)

// --- 利用者 ---

type fakeIdentity struct {
	mu       sync.Mutex
	current  *model.Identity
	watchers []chan session.State
}

func (f *fakeIdentity) Current() *model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	cp := *f.current
	return &cp
}

func (f *fakeIdentity) Watch() (<-chan session.State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan session.State, 1)
	ch <- session.State{Identity: f.current}
	f.watchers = append(f.watchers, ch)
	return ch, func() {}
}

func (f *fakeIdentity) set(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		f.current = nil
	} else {
		f.current = &model.Identity{ID: id, Email: id + "@example.com"}
	}
	for _, ch := range f.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- session.State{Identity: f.current}
	}
}

// --- リモートストア ---

// fakeBackend は4テーブルを所有者付きで保持するインメモリのリモートストア。
type fakeBackend struct {
	mu       sync.Mutex
	seq      int
	clock    time.Time
	numbers  []model.PhoneNumber
	projects []model.Project
	resps    []model.ResponsibleParty
	links    []model.GroupLink

	writes  int
	reads   int
	writeFn func(table model.Table, op string) error // nil以外を返すと書き込みを失敗させる
	listFn  func(ctx context.Context, table model.Table, ownerID string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (b *fakeBackend) repos() Repositories {
	return Repositories{
		Numbers:      &fakeNumberRepo{b},
		Projects:     &fakeProjectRepo{b},
		Responsibles: &fakeResponsibleRepo{b},
		GroupLinks:   &fakeGroupLinkRepo{b},
	}
}

func (b *fakeBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// beginWrite はb.muを保持して呼ぶ。
func (b *fakeBackend) beginWrite(table model.Table, op string) (string, time.Time, error) {
	b.writes++
	if b.writeFn != nil {
		if err := b.writeFn(table, op); err != nil {
			return "", time.Time{}, err
		}
	}
	b.seq++
	b.clock = b.clock.Add(time.Minute)
	return fmt.Sprintf("%s-%d", table, b.seq), b.clock, nil
}

func (b *fakeBackend) beginList(ctx context.Context, table model.Table, ownerID string) error {
	b.mu.Lock()
	b.reads++
	fn := b.listFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, table, ownerID)
	}
	return nil
}

func notFound(table model.Table, id string) error { return model.NewNotFoundError(table, id) }

type fakeNumberRepo struct{ b *fakeBackend }

func (r *fakeNumberRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.PhoneNumber, error) {
	if err := r.b.beginList(ctx, model.TableNumbers, ownerID); err != nil {
		return nil, err
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []model.PhoneNumber
	for _, n := range r.b.numbers {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeNumberRepo) Create(_ context.Context, ownerID string, in model.NewPhoneNumber) (string, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	id, at, err := r.b.beginWrite(model.TableNumbers, opCreate)
	if err != nil {
		return "", err
	}
	n := model.PhoneNumber{
		ID: id, Number: in.Number, Status: in.Status, MessageCount: 0, CreatedAt: at, OwnerID: ownerID,
		ProjectID: model.NullIfEmpty(in.ProjectID), ResponsibleID: model.NullIfEmpty(in.ResponsibleID),
	}
	if in.Device != "" {
		d := in.Device
		n.Device = &d
	}
	r.b.numbers = append(r.b.numbers, n)
	return id, nil
}

func (r *fakeNumberRepo) Update(_ context.Context, ownerID, id string, p model.PhoneNumberPatch) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableNumbers, opUpdate); err != nil {
		return err
	}
	for i := range r.b.numbers {
		n := &r.b.numbers[i]
		if n.ID != id || n.OwnerID != ownerID {
			continue
		}
		if p.Number != nil {
			n.Number = *p.Number
		}
		if p.Status != nil {
			n.Status = *p.Status
		}
		if p.ProjectID != nil {
			n.ProjectID = model.NullIfEmpty(*p.ProjectID)
		}
		return nil
	}
	return notFound(model.TableNumbers, id)
}

func (r *fakeNumberRepo) Delete(_ context.Context, ownerID, id string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableNumbers, opDelete); err != nil {
		return err
	}
	for i, n := range r.b.numbers {
		if n.ID == id && n.OwnerID == ownerID {
			r.b.numbers = append(r.b.numbers[:i], r.b.numbers[i+1:]...)
			return nil
		}
	}
	return notFound(model.TableNumbers, id)
}

type fakeProjectRepo struct{ b *fakeBackend }

func (r *fakeProjectRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	if err := r.b.beginList(ctx, model.TableProjects, ownerID); err != nil {
		return nil, err
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []model.Project
	for _, p := range r.b.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeProjectRepo) Create(_ context.Context, ownerID string, in model.NewProject) (string, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	id, at, err := r.b.beginWrite(model.TableProjects, opCreate)
	if err != nil {
		return "", err
	}
	r.b.projects = append(r.b.projects, model.Project{
		ID: id, Name: in.Name, Description: model.NullIfEmpty(in.Description), CreatedAt: at, OwnerID: ownerID,
	})
	return id, nil
}

func (r *fakeProjectRepo) Update(_ context.Context, ownerID, id string, p model.ProjectPatch) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableProjects, opUpdate); err != nil {
		return err
	}
	for i := range r.b.projects {
		if r.b.projects[i].ID == id && r.b.projects[i].OwnerID == ownerID {
			if p.Name != nil {
				r.b.projects[i].Name = *p.Name
			}
			return nil
		}
	}
	return notFound(model.TableProjects, id)
}

// Delete は参照している番号のprojeto_idをNULLにする（ON DELETE SET NULL相当）。
func (r *fakeProjectRepo) Delete(_ context.Context, ownerID, id string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableProjects, opDelete); err != nil {
		return err
	}
	for i, p := range r.b.projects {
		if p.ID == id && p.OwnerID == ownerID {
			r.b.projects = append(r.b.projects[:i], r.b.projects[i+1:]...)
			for j := range r.b.numbers {
				if pid := r.b.numbers[j].ProjectID; pid != nil && *pid == id {
					r.b.numbers[j].ProjectID = nil
				}
			}
			return nil
		}
	}
	return notFound(model.TableProjects, id)
}

type fakeResponsibleRepo struct{ b *fakeBackend }

func (r *fakeResponsibleRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ResponsibleParty, error) {
	if err := r.b.beginList(ctx, model.TableResponsibles, ownerID); err != nil {
		return nil, err
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []model.ResponsibleParty
	for _, p := range r.b.resps {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeResponsibleRepo) Create(_ context.Context, ownerID string, in model.NewResponsible) (string, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	id, at, err := r.b.beginWrite(model.TableResponsibles, opCreate)
	if err != nil {
		return "", err
	}
	r.b.resps = append(r.b.resps, model.ResponsibleParty{
		ID: id, Name: in.Name, Email: model.NullIfEmpty(in.Email), CreatedAt: at, OwnerID: ownerID,
	})
	return id, nil
}

func (r *fakeResponsibleRepo) Update(_ context.Context, ownerID, id string, p model.ResponsiblePatch) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableResponsibles, opUpdate); err != nil {
		return err
	}
	for i := range r.b.resps {
		if r.b.resps[i].ID == id && r.b.resps[i].OwnerID == ownerID {
			if p.Name != nil {
				r.b.resps[i].Name = *p.Name
			}
			return nil
		}
	}
	return notFound(model.TableResponsibles, id)
}

func (r *fakeResponsibleRepo) Delete(_ context.Context, ownerID, id string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableResponsibles, opDelete); err != nil {
		return err
	}
	for i, p := range r.b.resps {
		if p.ID == id && p.OwnerID == ownerID {
			r.b.resps = append(r.b.resps[:i], r.b.resps[i+1:]...)
			return nil
		}
	}
	return notFound(model.TableResponsibles, id)
}

type fakeGroupLinkRepo struct{ b *fakeBackend }

func (r *fakeGroupLinkRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.GroupLink, error) {
	if err := r.b.beginList(ctx, model.TableGroupLinks, ownerID); err != nil {
		return nil, err
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	var out []model.GroupLink
	for _, l := range r.b.links {
		if l.OwnerID == ownerID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeGroupLinkRepo) FindByID(_ context.Context, ownerID, id string) (*model.GroupLink, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	for _, l := range r.b.links {
		if l.ID == id && l.OwnerID == ownerID {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeGroupLinkRepo) Create(_ context.Context, ownerID string, in model.NewGroupLink) (string, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	id, at, err := r.b.beginWrite(model.TableGroupLinks, opCreate)
	if err != nil {
		return "", err
	}
	r.b.links = append(r.b.links, model.GroupLink{ID: id, GroupName: in.GroupName, URL: in.URL, CreatedAt: at, OwnerID: ownerID})
	return id, nil
}

func (r *fakeGroupLinkRepo) Update(_ context.Context, ownerID, id string, p model.GroupLinkPatch) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableGroupLinks, opUpdate); err != nil {
		return err
	}
	for i := range r.b.links {
		if r.b.links[i].ID == id && r.b.links[i].OwnerID == ownerID {
			if p.GroupName != nil {
				r.b.links[i].GroupName = *p.GroupName
			}
			if p.URL != nil {
				r.b.links[i].URL = *p.URL
			}
			return nil
		}
	}
	return notFound(model.TableGroupLinks, id)
}

func (r *fakeGroupLinkRepo) Delete(_ context.Context, ownerID, id string) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if _, _, err := r.b.beginWrite(model.TableGroupLinks, opDelete); err != nil {
		return err
	}
	for i, l := range r.b.links {
		if l.ID == id && l.OwnerID == ownerID {
			r.b.links = append(r.b.links[:i], r.b.links[i+1:]...)
			return nil
		}
	}
	return notFound(model.TableGroupLinks, id)
}

var (
	_ repository.NumberRepository      = (*fakeNumberRepo)(nil)
	_ repository.ProjectRepository     = (*fakeProjectRepo)(nil)
	_ repository.ResponsibleRepository = (*fakeResponsibleRepo)(nil)
	_ repository.GroupLinkRepository   = (*fakeGroupLinkRepo)(nil)
)

// --- 変更通知 ---

type fakeSub struct {
	parent  *fakeSubscriber
	id      int
	table   model.Table
	owner   string
	fn      realtime.Handler
	closed  bool
	failErr error
}

func (s *fakeSub) Unsubscribe() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	if s.closed {
		return realtime.ErrSubscriptionClosed
	}
	s.closed = true
	s.parent.unsubscribed++
	return s.failErr
}

// fakeSubscriber は購読を記録し、テストから変更イベントを発火できる。
type fakeSubscriber struct {
	mu           sync.Mutex
	subs         []*fakeSub
	unsubscribed int
	failUnsubOf  model.Table // このテーブルの購読解除はエラーを返す（解除自体は行う）
	subscribeErr error
}

func (f *fakeSubscriber) Subscribe(table model.Table, ownerID string, fn realtime.Handler) (realtime.Unsubscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{parent: f, id: len(f.subs) + 1, table: table, owner: ownerID, fn: fn}
	if table == f.failUnsubOf {
		sub.failErr = errors.New("channel already gone")
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeSubscriber) active() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSubscriber) fire(table model.Table, ownerID, op string) int {
	delivered := 0
	for _, s := range f.active() {
		if s.table == table && s.owner == ownerID {
			s.fn(realtime.Event{Operation: op, Table: table, OwnerID: ownerID})
			delivered++
		}
	}
	return delivered
}

var _ realtime.Subscriber = (*fakeSubscriber)(nil)

// --- 通知 ---

type recordedNotice struct {
	level, title, message string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []recordedNotice
}

func (n *fakeNotifier) Success(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{"success", title, message})
}

func (n *fakeNotifier) Error(title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, recordedNotice{"error", title, message})
}

func (n *fakeNotifier) all() []recordedNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedNotice(nil), n.notices...)
}

// --- 観測 ---

type fakeObserver struct {
	mu        sync.Mutex
	reloads   map[string]int
	mutations map[string]int
}

func (o *fakeObserver) RecordReload(result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reloads == nil {
		o.reloads = make(map[string]int)
	}
	o.reloads[result]++
}

func (o *fakeObserver) RecordMutation(table, op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutations == nil {
		o.mutations = make(map[string]int)
	}
	o.mutations[table+"/"+op+"/"+result]++
}

// --- ヘルパー ---

type harness struct {
	store    *Store
	identity *fakeIdentity
	backend  *fakeBackend
	subs     *fakeSubscriber
	notifier *fakeNotifier
	observer *fakeObserver
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		identity: &fakeIdentity{},
		backend:  newFakeBackend(),
		subs:     &fakeSubscriber{},
		notifier: &fakeNotifier{},
		observer: &fakeObserver{},
	}
	h.store = New(h.identity, h.backend.repos(), h.subs, h.notifier, nil, WithObserver(h.observer))
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.store.Run(ctx) }()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
}

// signIn は利用者を設定し、初回読み込みと4つの購読が完了するまで待つ。
func (h *harness) signIn(t *testing.T, id string) {
	t.Helper()
	h.identity.set(id)
	waitFor(t, "initial load for "+id, func() bool {
		snap := h.store.Snapshot()
		if snap.OwnerID != id || snap.Loading || snap.LoadedAt.IsZero() {
			return false
		}
		n := 0
		for _, s := range h.subs.active() {
			if s.owner == id {
				n++
			}
		}
		return n == 4
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
