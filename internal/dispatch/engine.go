package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"
	"wadispatch/internal/eventbus"
	"wadispatch/internal/gateway"
	"wadispatch/internal/phone"
	"wadispatch/internal/runstatus"
	logx "wadispatch/pkg/logx"
)

// ExecutionIDLayout formats execution IDs and archive prefixes (local time).
const ExecutionIDLayout = "20060102_150405"

// Start rejections. A rejected run leaves the status store untouched.
var (
	ErrRunActive         = errors.New("dispatch: a run is already active")
	ErrGatewayUnhealthy  = errors.New("dispatch: gateway instance is not connected")
	ErrAttachmentMissing = errors.New("dispatch: attachment file not found")
	ErrStartRejected     = errors.New("dispatch: status store refused to start the run")
)

// Gateway is the subset of gateway.Client the engine drives.
type Gateway interface {
	CheckInstanceStatus(ctx context.Context) bool
	SendText(ctx context.Context, number, text string, delayMS int) bool
	SendMedia(ctx context.Context, m gateway.MediaMessage) bool
}

// Engine runs jobs one recipient at a time. It holds no per-run state, so a
// single Engine may serve successive runs; the status store decides whether
// a run may start.
type Engine struct {
	store  runstatus.Store
	gw     Gateway
	pacing Pacing
	log    logx.Logger
	bus    eventbus.Bus

	sleep gateway.Sleeper
	rnd   func() float64
	now   func() time.Time
}

type Option func(*Engine)

func WithBus(b eventbus.Bus) Option {
	return func(e *Engine) {
		if b != nil {
			e.bus = b
		}
	}
}

func WithSleeper(s gateway.Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithRand sets the [0,1) source used for delay jitter.
func WithRand(rnd func() float64) Option {
	return func(e *Engine) {
		if rnd != nil {
			e.rnd = rnd
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(store runstatus.Store, gw Gateway, pacing Pacing, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store:  store,
		gw:     gw,
		pacing: pacing,
		log:    log.With(logx.String("comp", "dispatch")),
		bus:    eventbus.Nop(),
		sleep:  gateway.SleepContext,
		rnd:    defaultRand,
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes job. It returns an error only when the run is rejected before
// starting (errors.Is one of the Err* sentinels, or a store failure); once
// started, the run always reaches Finalizing and reports through Report,
// including when ctx is canceled mid-run.
func (e *Engine) Run(ctx context.Context, job Job) (Report, error) {
	rep := Report{JobID: job.ID, Total: len(job.Recipients)}
	log := e.log.With(logx.String("job_id", job.ID))

	executionID, err := e.begin(ctx, job)
	if err != nil {
		rep.Rejected = true
		rep.RejectReason = rejectReason(err)
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeRunRejected, Data: eventbus.RunRejected{JobID: job.ID, Reason: rep.RejectReason}})
		log.Error("run rejected", logx.String("reason", rep.RejectReason), logx.Err(err))
		return rep, err
	}

	rep.ExecutionID = executionID
	rep.StartedAt = e.now()
	log = log.With(logx.String("execution_id", executionID))
	log.Info("run started",
		logx.Int("recipients", rep.Total),
		logx.String("attachment", job.AttachmentPath),
		logx.Bool("message", job.HasMessage()))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeRunStarted, Data: eventbus.RunStarted{
		ExecutionID: executionID, JobID: job.ID, Total: rep.Total,
		HasMessage: job.HasMessage(), Attachment: job.AttachmentPath,
	}})

	e.loop(ctx, log, job, &rep)
	e.finalize(ctx, log, job, &rep)
	return rep, nil
}

func (e *Engine) begin(ctx context.Context, job Job) (string, error) {
	running, err := e.store.IsRunning(ctx)
	if err != nil {
		return "", fmt.Errorf("dispatch: read run state: %w", err)
	}
	if running {
		return "", ErrRunActive
	}
	if !e.gw.CheckInstanceStatus(ctx) {
		return "", ErrGatewayUnhealthy
	}
	if job.AttachmentPath != "" && !fileExists(job.AttachmentPath) {
		return "", fmt.Errorf("%w: %s", ErrAttachmentMissing, job.AttachmentPath)
	}

	executionID := e.now().Format(ExecutionIDLayout)
	ok, err := e.store.StartExecution(ctx, len(job.Recipients), executionID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStartRejected, err)
	}
	if !ok {
		// Another invocation started between the check above and here.
		return "", fmt.Errorf("%w: %w", ErrStartRejected, ErrRunActive)
	}
	return executionID, nil
}

func (e *Engine) loop(ctx context.Context, log logx.Logger, job Job, rep *Report) {
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("dispatch: panic: %v", r)
			rep.Interrupted = true
			rep.StopReason = "unexpected error"
			log.Error("run aborted by unexpected error", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	for i, r := range job.Recipients {
		if err := ctx.Err(); err != nil {
			e.interrupt(log, rep, err)
			return
		}
		if i > 0 && e.pacing.AbortOnReset && e.resetExternally(ctx, log) {
			rep.Interrupted = true
			rep.StopReason = "status reset"
			log.Warn("run stopped: status was reset", logx.Int("remaining", len(job.Recipients)-i))
			return
		}

		log.Info("processing recipient", logx.Int("index", i+1), logx.Int("total", len(job.Recipients)), logx.String("name", r.Name))
		if !e.process(ctx, log, rep, job, r) {
			e.interrupt(log, rep, ctx.Err())
			return
		}

		if i < len(job.Recipients)-1 {
			d := e.pacing.RecipientDelay.Pick(e.rnd)
			log.Debug("waiting before next recipient", logx.Duration("delay", d))
			if err := e.sleep(ctx, d); err != nil {
				e.interrupt(log, rep, err)
				return
			}
		}
	}
}

// process handles one recipient. It returns false only when ctx was canceled
// mid-recipient, leaving it non-terminal.
func (e *Engine) process(ctx context.Context, log logx.Logger, rep *Report, job Job, r Recipient) bool {
	sctx := context.WithoutCancel(ctx)
	key := r.Key()
	log = log.With(logx.String("name", r.Name))

	e.step(sctx, log, "processing "+r.Name, r.Name)
	e.mark(sctx, log, key, r.Name, r.Phone, runstatus.StatusProcessing, "starting")

	if phone.IsPlaceholder(r.Phone) {
		log.Warn("invalid phone; skipping", logx.String("phone", r.Phone))
		e.fail(sctx, log, rep, key, r.Name, r.Phone, ReasonInvalidPhone)
		return true
	}

	number := phone.Normalize(r.Phone)
	hasMessage := job.HasMessage()
	attachment := job.AttachmentPath != "" && fileExists(job.AttachmentPath)

	if hasMessage {
		e.mark(sctx, log, key, r.Name, number, runstatus.StatusProcessing, "sending message")
		if !e.gw.SendText(ctx, number, job.Message, e.pacing.GatewayDelayMS) {
			if ctx.Err() != nil {
				return false
			}
			e.fail(sctx, log, rep, key, r.Name, number, ReasonMessageFailed)
			return true
		}
		if attachment {
			d := e.pacing.MessageMediaDelay.Pick(e.rnd)
			log.Debug("waiting before attachment", logx.Duration("delay", d))
			if err := e.sleep(ctx, d); err != nil {
				return false
			}
		}
	}

	if attachment {
		e.mark(sctx, log, key, r.Name, number, runstatus.StatusProcessing, "sending attachment")
		caption := ""
		if !hasMessage {
			caption = job.Message
		}
		ok := e.gw.SendMedia(ctx, gateway.MediaMessage{
			Number:   number,
			FilePath: job.AttachmentPath,
			Caption:  caption,
			DelayMS:  e.pacing.GatewayDelayMS,
		})
		if !ok {
			if ctx.Err() != nil {
				return false
			}
			e.fail(sctx, log, rep, key, r.Name, number, ReasonAttachmentFailed)
			return true
		}
	}

	if !hasMessage && !attachment {
		log.Error("nothing to send")
		e.fail(sctx, log, rep, key, r.Name, number, ReasonNoContent)
		return true
	}

	rep.Processed++
	rep.Successes = append(rep.Successes, Delivery{Name: r.Name, Phone: number, Sector: r.Sector, Site: r.Site})
	e.mark(sctx, log, key, r.Name, number, runstatus.StatusSuccess, detailDelivered)
	log.Info("recipient delivered", logx.String("phone", number))
	return true
}

func (e *Engine) fail(ctx context.Context, log logx.Logger, rep *Report, key, name, number, reason string) {
	rep.Processed++
	rep.Failures = append(rep.Failures, Failure{Name: name, Phone: number, Reason: reason})
	e.mark(ctx, log, key, name, number, runstatus.StatusFailed, reason)
	log.Error("recipient failed", logx.String("reason", reason))
}

// mark writes the recipient status and publishes it. Store errors are logged;
// they never abort the run.
func (e *Engine) mark(ctx context.Context, log logx.Logger, key, name, number string, st runstatus.Status, detail string) {
	if err := e.store.UpdateRecipientStatus(ctx, key, name, number, st, detail); err != nil {
		log.Error("status update failed", logx.String("status", st.String()), logx.Err(err))
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientUpdated, Data: eventbus.RecipientUpdated{
		Key: key, Name: name, Phone: number, Status: st.String(), Detail: detail,
	}})
}

func (e *Engine) step(ctx context.Context, log logx.Logger, step, name string) {
	if err := e.store.UpdateCurrentStep(ctx, step, name); err != nil {
		log.Error("status step update failed", logx.Err(err))
	}
}

func (e *Engine) resetExternally(ctx context.Context, log logx.Logger) bool {
	running, err := e.store.IsRunning(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("read run state failed", logx.Err(err))
		return false
	}
	return !running
}

func (e *Engine) interrupt(log logx.Logger, rep *Report, cause error) {
	rep.Interrupted = true
	rep.StopReason = "interrupted"
	if cause != nil && errors.Is(cause, context.DeadlineExceeded) {
		rep.StopReason = "deadline exceeded"
	}
	log.Warn("run interrupted", logx.Int("processed", rep.Processed), logx.Int("total", rep.Total))
}

// finalize always runs once a run has started.
func (e *Engine) finalize(ctx context.Context, log logx.Logger, job Job, rep *Report) {
	sctx := context.WithoutCancel(ctx)
	if err := e.store.EndExecution(sctx); err != nil {
		log.Error("end execution failed", logx.Err(err))
	}

	if rep.SuccessCount() > 0 && job.AttachmentPath != "" && e.pacing.ArchiveDir != "" {
		dst, err := archiveAttachment(job.AttachmentPath, e.pacing.ArchiveDir, e.now())
		if err != nil {
			log.Error("archive attachment failed", logx.Err(err))
		} else {
			rep.ArchivePath = dst
			log.Info("attachment archived", logx.String("path", dst))
		}
	}

	rep.Duration = e.now().Sub(rep.StartedAt)
	if rep.Err != nil {
		rep.Error = rep.Err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: eventbus.RunFinished{
		ExecutionID: rep.ExecutionID,
		Total:       rep.Total,
		Processed:   rep.Processed,
		Succeeded:   rep.SuccessCount(),
		Failed:      rep.FailureCount(),
		Interrupted: rep.Interrupted,
		Duration:    rep.Duration,
		Error:       rep.Error,
	}})
	rep.Log(log)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRunActive):
		return "run_active"
	case errors.Is(err, ErrGatewayUnhealthy):
		return "gateway_unhealthy"
	case errors.Is(err, ErrAttachmentMissing):
		return "attachment_missing"
	case errors.Is(err, ErrStartRejected):
		return "start_rejected"
	default:
		return "store_error"
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
