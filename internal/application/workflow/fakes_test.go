package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

// memRepo is an in-memory WorkflowRepository with version checks
type memRepo struct {
	mu        sync.Mutex
	docs      map[string]*entity.Workflow
	getCalls  atomic.Int32
	saveCalls atomic.Int32

	createErr error
	saveErr   error
	conflicts int // number of Save calls to fail with ErrConflict
}

func newMemRepo() *memRepo {
	return &memRepo{docs: make(map[string]*entity.Workflow)}
}

func (m *memRepo) Create(ctx context.Context, wf *entity.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.docs[wf.WorkflowID]; ok {
		return fmt.Errorf("duplicate workflow %s", wf.WorkflowID)
	}
	m.docs[wf.WorkflowID] = wf.Clone()
	return nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*entity.Workflow, error) {
	m.getCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.docs[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return wf.Clone(), nil
}

func (m *memRepo) Save(ctx context.Context, wf *entity.Workflow, expected int64) error {
	m.saveCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cur, ok := m.docs[wf.WorkflowID]
	if !ok {
		return port.ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		cur.Version++
		return port.ErrConflict
	}
	if cur.Version != expected {
		return port.ErrConflict
	}
	m.docs[wf.WorkflowID] = wf.Clone()
	return nil
}

func (m *memRepo) ListActive(ctx context.Context) ([]*entity.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Workflow
	for _, wf := range m.docs {
		if !wf.IsComplete() {
			out = append(out, wf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) GetByThread(ctx context.Context, threadRef string) (*entity.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.docs {
		if wf.CoordinatorThread.ThreadTS == threadRef {
			return wf.Clone(), nil
		}
	}
	return nil, port.ErrNotFound
}

func (m *memRepo) seed(wf *entity.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.Version == 0 {
		wf.Version = 1
	}
	m.docs[wf.WorkflowID] = wf.Clone()
}

func (m *memRepo) raw(id string) *entity.Workflow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].Clone()
}

type memRecords struct {
	mu            sync.Mutex
	records       map[string]*entity.FinalizedRecord
	finalizeCalls int
	err           error
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[string]*entity.FinalizedRecord)}
}

func (m *memRecords) Finalize(ctx context.Context, rec *entity.FinalizedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeCalls++
	if m.err != nil {
		return m.err
	}
	if existing, ok := m.records[rec.BORef]; ok && existing.WorkflowID != rec.WorkflowID {
		return fmt.Errorf("booking order %s belongs to another workflow: %w", rec.BORef, port.ErrConflict)
	}
	cp := *rec
	cp.Data = rec.Data.Clone()
	m.records[rec.BORef] = &cp
	return nil
}

func (m *memRecords) Get(ctx context.Context, boRef string) (*entity.FinalizedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[boRef]
	if !ok {
		return nil, port.ErrNotFound
	}
	cp := *rec
	cp.Data = rec.Data.Clone()
	return &cp, nil
}

// claimingRecords hands claim to another workflow right before the first
// Finalize that targets it
type claimingRecords struct {
	*memRecords
	claim string
}

func (c *claimingRecords) Finalize(ctx context.Context, rec *entity.FinalizedRecord) error {
	if c.claim != "" && rec.BORef == c.claim {
		c.claim = ""
		if err := c.memRecords.Finalize(ctx, &entity.FinalizedRecord{BORef: rec.BORef, WorkflowID: "bo-someone-else"}); err != nil {
			return err
		}
	}
	return c.memRecords.Finalize(ctx, rec)
}

type sentMessage struct {
	Destination string
	Msg         port.OutboundMessage
	Ref         string
}

type updatedMessage struct {
	Destination, Ref, Content string
}

type uploadedFile struct {
	Destination, Path, Caption, ThreadRef string
}

// recNotifier records every outbound call
type recNotifier struct {
	mu      sync.Mutex
	seq     int
	sent    []sentMessage
	updates []updatedMessage
	uploads []uploadedFile
	sendErr error
}

func (n *recNotifier) Send(ctx context.Context, dest string, msg port.OutboundMessage) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return "", n.sendErr
	}
	n.seq++
	ref := fmt.Sprintf("msg-%d", n.seq)
	n.sent = append(n.sent, sentMessage{Destination: dest, Msg: msg, Ref: ref})
	return ref, nil
}

func (n *recNotifier) Update(ctx context.Context, dest, ref, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, updatedMessage{Destination: dest, Ref: ref, Content: content})
	return nil
}

func (n *recNotifier) Upload(ctx context.Context, dest, path, caption, threadRef string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	n.uploads = append(n.uploads, uploadedFile{Destination: dest, Path: path, Caption: caption, ThreadRef: threadRef})
	return fmt.Sprintf("file-%d", n.seq), nil
}

func (n *recNotifier) OpenDirectChannel(ctx context.Context, actorID string) (string, error) {
	return "dm:" + actorID, nil
}

// sentTo returns messages delivered to a destination
func (n *recNotifier) sentTo(dest string) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, s := range n.sent {
		if s.Destination == dest {
			out = append(out, s)
		}
	}
	return out
}

func (n *recNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recNotifier) last() sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

type fakeRenderer struct {
	mu      sync.Mutex
	calls   int
	stamped int
	err     error
}

func (r *fakeRenderer) Render(ctx context.Context, data entity.BookingOrderData, ref string, stamp bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.calls++
	if stamp {
		r.stamped++
	}
	return filepath.Join("/tmp/render", ref+".xlsx"), nil
}

type fakeArchive struct {
	calls int
	err   error
}

func (a *fakeArchive) Archive(ctx context.Context, src, workflowID string) (entity.OriginalFile, error) {
	a.calls++
	if a.err != nil {
		return entity.OriginalFile{}, a.err
	}
	return entity.OriginalFile{
		Path:     filepath.Join("archive", workflowID, filepath.Base(src)),
		Filename: filepath.Base(src),
		Size:     2048,
	}, nil
}

type fakeDirectory map[string]port.Stakeholders

func (d fakeDirectory) Lookup(company string) (port.Stakeholders, error) {
	s, ok := d[company]
	if !ok {
		return port.Stakeholders{}, errors.New("no stakeholders configured for " + company)
	}
	return s, nil
}

type fixture struct {
	repo     *memRepo
	records  *memRecords
	notifier *recNotifier
	renderer *fakeRenderer
	archive  *fakeArchive
	store    *Store
	engine   *engineImpl
}

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     newMemRepo(),
		records:  newMemRecords(),
		notifier: &recNotifier{},
		renderer: &fakeRenderer{},
		archive:  &fakeArchive{},
	}
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return testNow }

	f.store = NewStore(f.repo, logger, WithStoreClock(clock), WithMaxUpdateAttempts(100))
	f.engine = NewEngine(f.store, f.records, Collaborators{
		Notifier: f.notifier,
		Renderer: f.renderer,
		Archive:  f.archive,
		Directory: fakeDirectory{
			"Acme Media": {Coordinator: "u-coord", HoS: "u-hos", Finance: "u-fin"},
		},
	}, WithLogger(logger), WithClock(clock)).(*engineImpl)

	return f
}

func (f *fixture) create(t *testing.T) *entity.Workflow {
	t.Helper()
	wf, err := f.engine.Create(context.Background(), CreateRequest{
		SubmitterID: "u-sales",
		Company:     "Acme Media",
		Data:        entity.BookingOrderData{BONumber: "BO-1001", Client: "Initech", NetPreTax: 100000},
		SourcePath:  "/tmp/upload/bo-1001.pdf",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return wf
}
