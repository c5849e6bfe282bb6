package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"wadispatch/internal/eventbus"
	"wadispatch/internal/gateway"
	"wadispatch/internal/runstatus"
	logx "wadispatch/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op      string
	number  string
	text    string
	caption string
}

// fakeGateway records calls and fails the numbers listed in failText/failMedia.
type fakeGateway struct {
	mu        sync.Mutex
	healthy   bool
	calls     []call
	failText  map[string]bool
	failMedia map[string]bool
	onText    func(number string)
	panicOn   string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{healthy: true, failText: map[string]bool{}, failMedia: map[string]bool{}}
}

func (g *fakeGateway) CheckInstanceStatus(context.Context) bool { return g.healthy }

func (g *fakeGateway) SendText(ctx context.Context, number, text string, delayMS int) bool {
	g.mu.Lock()
	g.calls = append(g.calls, call{op: "text", number: number, text: text})
	fail := g.failText[number]
	hook := g.onText
	g.mu.Unlock()
	if number == g.panicOn {
		panic("gateway exploded")
	}
	if hook != nil {
		hook(number)
	}
	return !fail && ctx.Err() == nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, m gateway.MediaMessage) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{op: "media", number: m.Number, caption: m.Caption})
	return !g.failMedia[m.Number] && ctx.Err() == nil
}

func (g *fakeGateway) ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.calls))
	for _, c := range g.calls {
		out = append(out, c.op+":"+c.number)
	}
	return out
}

// countingStore wraps a store to observe calls.
type countingStore struct {
	runstatus.Store
	mu     sync.Mutex
	starts int
	failUp bool
}

func (s *countingStore) StartExecution(ctx context.Context, total int, id string) (bool, error) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	return s.Store.StartExecution(ctx, total, id)
}

func (s *countingStore) UpdateRecipientStatus(ctx context.Context, key, name, phone string, st runstatus.Status, detail string) error {
	if s.failUp {
		return errors.New("disk full")
	}
	return s.Store.UpdateRecipientStatus(ctx, key, name, phone, st, detail)
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.d...)
}

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)

func newEngine(t *testing.T, st runstatus.Store, gw Gateway, p Pacing, sl *sleeps, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithSleeper(sl.sleep),
		WithRand(func() float64 { return 0.5 }),
		WithClock(func() time.Time { return fixedNow }),
	}
	return New(st, gw, p, logx.Nop(), append(base, opts...)...)
}

func testPacing(t *testing.T) Pacing {
	p := DefaultPacing()
	p.ArchiveDir = filepath.Join(t.TempDir(), "archive")
	return p
}

func attachment(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "comunicado.pdf")
	require.NoError(t, os.WriteFile(p, []byte("%PDF"), 0o644))
	return p
}

func threeRecipients() []Recipient {
	return []Recipient{
		{Name: "Ana", Phone: "11999990001", Sector: "RH", Site: "A"},
		{Name: "Bruno", Phone: "11999990002", Sector: "TI", Site: "B"},
		{Name: "Carla", Phone: "11999990003", Sector: "OP", Site: "C"},
	}
}

func TestRunTextFailureSkipsAttachmentOnly(t *testing.T) {
	st := runstatus.NewMemory()
	gw := newFakeGateway()
	gw.failText["5511999990002"] = true
	sl := &sleeps{}
	file := attachment(t)
	e := newEngine(t, st, gw, testPacing(t), sl)

	rep, err := e.Run(context.Background(), Job{ID: "j1", Recipients: threeRecipients(), AttachmentPath: file, Message: "Olá"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"text:5511999990001", "media:5511999990001",
		"text:5511999990002",
		"text:5511999990003", "media:5511999990003",
	}, gw.ops())
	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 2, rep.SuccessCount())
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, Failure{Name: "Bruno", Phone: "5511999990002", Reason: ReasonMessageFailed}, rep.Failures[0])
	assert.Equal(t, Delivery{Name: "Ana", Phone: "5511999990001", Sector: "RH", Site: "A"}, rep.Successes[0])
	assert.False(t, rep.Interrupted)
	assert.Equal(t, "20250314_093000", rep.ExecutionID)

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, rs.IsRunning)
	require.NotNil(t, rs.EndTime)
	assert.Equal(t, 3, rs.ProcessedCount)
	assert.Equal(t, 2, rs.SuccessCount)
	assert.Equal(t, 1, rs.FailureCount)
	assert.InDelta(t, 100.0, rs.ProgressPercentage(), 0.001)
	bruno := rs.Recipients["Bruno_11999990002"]
	assert.Equal(t, runstatus.StatusFailed, bruno.Status)
	assert.Equal(t, ReasonMessageFailed, bruno.Detail)
	assert.Equal(t, "delivered", rs.Recipients["Ana_11999990001"].Detail)

	// message->media delay for Ana and Carla, recipient delays between the three.
	assert.Equal(t, []time.Duration{20 * time.Second, 30 * time.Second, 30 * time.Second, 20 * time.Second}, sl.all())

	require.NotEmpty(t, rep.ArchivePath)
	assert.Equal(t, "20250314_093000_comunicado.pdf", filepath.Base(rep.ArchivePath))
	assert.FileExists(t, rep.ArchivePath)
	assert.FileExists(t, file)
}

func TestRunUnhealthyGatewayRejectsBeforeStart(t *testing.T) {
	st := &countingStore{Store: runstatus.NewMemory()}
	gw := newFakeGateway()
	gw.healthy = false
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{ID: "j", Recipients: threeRecipients(), Message: "x"})
	require.ErrorIs(t, err, ErrGatewayUnhealthy)
	assert.True(t, rep.Rejected)
	assert.Equal(t, "gateway_unhealthy", rep.RejectReason)
	assert.Zero(t, st.starts)
	assert.Empty(t, gw.ops())

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rs.StartTime)
	assert.Empty(t, rs.Recipients)
}

func TestRunRejectsWhenActive(t *testing.T) {
	st := runstatus.NewMemory()
	_, err := st.StartExecution(context.Background(), 5, "other")
	require.NoError(t, err)
	gw := newFakeGateway()
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), Message: "x"})
	require.ErrorIs(t, err, ErrRunActive)
	assert.True(t, rep.Rejected)
	assert.Empty(t, gw.ops())

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "other", rs.ExecutionID)
	assert.Equal(t, 5, rs.TotalRecipients)
}

// lateStarter lets another execution claim the store right before the
// engine's own StartExecution.
type lateStarter struct {
	runstatus.Store
}

func (s lateStarter) StartExecution(ctx context.Context, total int, id string) (bool, error) {
	if _, err := s.Store.StartExecution(ctx, 1, "winner"); err != nil {
		return false, err
	}
	return s.Store.StartExecution(ctx, total, id)
}

func TestRunLosingStartRaceIsRunActive(t *testing.T) {
	st := lateStarter{Store: runstatus.NewMemory()}
	gw := newFakeGateway()
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{ID: "j", Recipients: threeRecipients(), Message: "x"})
	require.ErrorIs(t, err, ErrRunActive)
	assert.ErrorIs(t, err, ErrStartRejected)
	assert.True(t, rep.Rejected)
	assert.Equal(t, "run_active", rep.RejectReason)
	assert.Empty(t, gw.ops())

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "winner", rs.ExecutionID)
}

type failingStarter struct {
	runstatus.Store
}

func (failingStarter) StartExecution(context.Context, int, string) (bool, error) {
	return false, errors.New("database is locked")
}

func TestRunStartStoreErrorIsNotRunActive(t *testing.T) {
	e := newEngine(t, failingStarter{Store: runstatus.NewMemory()}, newFakeGateway(), testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), Message: "x"})
	require.ErrorIs(t, err, ErrStartRejected)
	assert.NotErrorIs(t, err, ErrRunActive)
	assert.Equal(t, "start_rejected", rep.RejectReason)
}

func TestRunRejectsMissingAttachment(t *testing.T) {
	st := &countingStore{Store: runstatus.NewMemory()}
	e := newEngine(t, st, newFakeGateway(), testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), AttachmentPath: filepath.Join(t.TempDir(), "gone.pdf")})
	require.ErrorIs(t, err, ErrAttachmentMissing)
	assert.Equal(t, "attachment_missing", rep.RejectReason)
	assert.Zero(t, st.starts)
}

func TestRunInvalidPhoneNeverReachesGateway(t *testing.T) {
	st := runstatus.NewMemory()
	gw := newFakeGateway()
	sl := &sleeps{}
	e := newEngine(t, st, gw, testPacing(t), sl)

	rep, err := e.Run(context.Background(), Job{Recipients: []Recipient{
		{Name: "Nan", Phone: "nan"},
		{Name: "Blank", Phone: "  "},
		{Name: "Ok", Phone: "11988887777"},
	}, Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []string{"text:5511988887777"}, gw.ops())
	require.Len(t, rep.Failures, 2)
	for _, f := range rep.Failures {
		assert.Equal(t, ReasonInvalidPhone, f.Reason)
	}
	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidPhone, rs.Recipients["Nan_nan"].Detail)
	assert.Equal(t, 1, rs.SuccessCount)
	assert.Equal(t, 2, rs.FailureCount)
	// No attachment: only the two between-recipient delays.
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sl.all())
	assert.Empty(t, rep.ArchivePath)
}

func TestRunAttachmentOnlyUsesMessageAsCaption(t *testing.T) {
	gw := newFakeGateway()
	e := newEngine(t, runstatus.NewMemory(), gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients()[:1], AttachmentPath: attachment(t), Message: "   "})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.SuccessCount())
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "media", gw.calls[0].op)
	assert.Equal(t, "   ", gw.calls[0].caption)
}

func TestRunAttachmentFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.failMedia["5511999990001"] = true
	st := runstatus.NewMemory()
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients()[:1], AttachmentPath: attachment(t), Message: "m"})
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, ReasonAttachmentFailed, rep.Failures[0].Reason)
	assert.Empty(t, rep.ArchivePath, "no success, no archive")
}

func TestRunNoContent(t *testing.T) {
	gw := newFakeGateway()
	st := runstatus.NewMemory()
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients()[:2]})
	require.NoError(t, err)
	assert.Empty(t, gw.ops())
	require.Len(t, rep.Failures, 2)
	assert.Equal(t, ReasonNoContent, rep.Failures[0].Reason)

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rs.FailureCount)
}

func TestRunCancelStillFinalizes(t *testing.T) {
	st := runstatus.NewMemory()
	gw := newFakeGateway()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.onText = func(number string) {
		if number == "5511999990002" {
			cancel()
		}
	}
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(ctx, Job{Recipients: threeRecipients(), Message: "m"})
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, []string{"text:5511999990001", "text:5511999990002"}, gw.ops())

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, rs.IsRunning)
	assert.Equal(t, 1, rs.ProcessedCount)
	assert.Equal(t, runstatus.StatusProcessing, rs.Recipients["Bruno_11999990002"].Status)
}

func TestRunPanicIsRecovered(t *testing.T) {
	st := runstatus.NewMemory()
	gw := newFakeGateway()
	gw.panicOn = "5511999990002"
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), Message: "m"})
	require.NoError(t, err)
	require.Error(t, rep.Err)
	assert.Contains(t, rep.Error, "gateway exploded")
	assert.True(t, rep.Interrupted)
	assert.Equal(t, 1, rep.SuccessCount())

	b, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"error":"dispatch: panic: gateway exploded"`)

	running, err := st.IsRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestRunAbortOnReset(t *testing.T) {
	st := runstatus.NewMemory()
	gw := newFakeGateway()
	gw.onText = func(number string) {
		if number == "5511999990001" {
			_ = st.ResetStatus(context.Background())
		}
	}
	p := testPacing(t)
	p.AbortOnReset = true
	e := newEngine(t, st, gw, p, &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), Message: "m"})
	require.NoError(t, err)
	assert.True(t, rep.Interrupted)
	assert.Equal(t, "status reset", rep.StopReason)
	assert.Equal(t, []string{"text:5511999990001"}, gw.ops())
}

func TestRunResetIsObservationalByDefault(t *testing.T) {
	st := runstatus.NewMemory()
	gw := newFakeGateway()
	gw.onText = func(number string) {
		if number == "5511999990001" {
			_ = st.ResetStatus(context.Background())
		}
	}
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), Message: "m"})
	require.NoError(t, err)
	assert.False(t, rep.Interrupted)
	assert.Equal(t, 3, rep.SuccessCount())
	assert.Len(t, gw.ops(), 3)

	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rs.ProcessedCount, "late updates must not resurrect a reset record")
}

func TestRunStoreErrorsDoNotAbort(t *testing.T) {
	st := &countingStore{Store: runstatus.NewMemory(), failUp: true}
	gw := newFakeGateway()
	e := newEngine(t, st, gw, testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Recipients: threeRecipients(), Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.SuccessCount())
}

func TestRunPublishesEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	e := newEngine(t, runstatus.NewMemory(), newFakeGateway(), testPacing(t), &sleeps{}, WithBus(bus))

	_, err := e.Run(context.Background(), Job{ID: "j", Recipients: threeRecipients()[:1], Message: "m"})
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, eventbus.TypeRunStarted, types[0])
	assert.Equal(t, eventbus.TypeRunFinished, types[len(types)-1])
	assert.Contains(t, types, eventbus.TypeRecipientUpdated)
}

func TestRunEmptyRecipients(t *testing.T) {
	st := runstatus.NewMemory()
	e := newEngine(t, st, newFakeGateway(), testPacing(t), &sleeps{})

	rep, err := e.Run(context.Background(), Job{Message: "m"})
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
	rs, err := st.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, rs.IsRunning)
	assert.Zero(t, rs.ProgressPercentage())
}
