package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"wadispatch/internal/metrics"
	logx "wadispatch/pkg/logx"

	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a failed response is kept for logs.
const maxErrorBody = 512

// Config configures a Client.
type Config struct {
	ServerURL string
	APIKey    string
	Instance  string
	Policy    Policy

	// RatePerSec paces requests client-side; 0 disables pacing.
	RatePerSec float64
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("gateway: server url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gateway: invalid server url %q", c.ServerURL)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("gateway: api key is required")
	}
	if strings.TrimSpace(c.Instance) == "" {
		return errors.New("gateway: instance name is required")
	}
	if c.RatePerSec < 0 {
		return errors.New("gateway: rate_per_sec must be >= 0")
	}
	return nil
}

// MediaMessage is one attachment send.
type MediaMessage struct {
	Number   string
	FilePath string
	FileName string // defaults to the base name of FilePath
	Caption  string
	DelayMS  int
}

// Client talks to one Evolution API instance. Send methods never return
// errors: failures are classified, retried per Policy, logged and reduced to
// a bool.
type Client struct {
	cfg     Config
	policy  Policy
	http    *http.Client
	log     logx.Logger
	sink    metrics.Sink
	limiter *rate.Limiter
	sleep   Sleeper
}

type Option func(*Client)

// WithHTTPClient overrides the transport. Per-attempt timeouts come from
// Policy, not from hc.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithSink(s metrics.Sink) Option {
	return func(c *Client) {
		if s != nil {
			c.sink = s
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	c := &Client{
		cfg:    cfg,
		policy: cfg.Policy.withDefaults(),
		http:   &http.Client{},
		log:    log.With(logx.String("comp", "gateway"), logx.String("instance", cfg.Instance)),
		sink:   metrics.NewNoopSink(),
		sleep:  SleepContext,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the effective retry policy.
func (c *Client) Policy() Policy { return c.policy }

type connectionState struct {
	Instance struct {
		State  string `json:"state"`
		Status string `json:"status"`
	} `json:"instance"`
}

// CheckInstanceStatus reports whether the instance is connected ("open" or
// "connected"). Any failure reads as unhealthy.
func (c *Client) CheckInstanceStatus(ctx context.Context) bool {
	healthy := c.probe(ctx)
	c.sink.GatewayProbe(healthy)
	return healthy
}

func (c *Client) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.policy.ProbeTimeout)
	defer cancel()

	start := time.Now()
	status, body, err := c.do(ctx, http.MethodGet, c.endpoint("instance/connectionState"), nil)
	c.sink.GatewayAttempt(metrics.OpProbe, 1, metrics.ClassifyStatus(status, err), time.Since(start))
	if err != nil {
		c.log.Error("instance status check failed", logx.Err(err))
		return false
	}
	if status < 200 || status >= 300 {
		c.log.Error("instance status check failed", logx.Int("status", status), logx.String("body", snippet(body)))
		return false
	}

	var cs connectionState
	if err := json.Unmarshal(body, &cs); err != nil {
		c.log.Error("instance status response malformed", logx.Err(err))
		return false
	}
	state := cs.Instance.State
	if state == "" {
		state = cs.Instance.Status
	}
	if state == "" {
		state = "unknown"
	}
	c.log.Info("instance status", logx.String("state", state))
	if state != "open" && state != "connected" {
		c.log.Warn("instance not connected", logx.String("state", state))
		return false
	}
	return true
}

type textPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int    `json:"delay"`
}

// SendText sends a text message to number (digits only, international form).
func (c *Client) SendText(ctx context.Context, number, text string, delayMS int) bool {
	body, err := json.Marshal(textPayload{Number: number, Text: text, Delay: delayMS})
	if err != nil {
		c.log.Error("encode text payload failed", logx.Err(err))
		return false
	}
	return c.send(ctx, metrics.OpText, c.policy.Text, c.endpoint("message/sendText"), number, body)
}

type mediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype"`
	Caption   string `json:"caption"`
	Media     string `json:"media"`
	FileName  string `json:"fileName"`
	Delay     int    `json:"delay"`
}

// SendMedia reads m.FilePath, base64-encodes it and sends it as an attachment.
// An unreadable or empty file fails without contacting the gateway.
func (c *Client) SendMedia(ctx context.Context, m MediaMessage) bool {
	raw, err := os.ReadFile(m.FilePath)
	if err != nil {
		c.log.Error("read attachment failed", logx.String("path", m.FilePath), logx.Err(err))
		return false
	}
	if len(raw) == 0 {
		c.log.Error("attachment is empty", logx.String("path", m.FilePath))
		return false
	}

	name := m.FileName
	if name == "" {
		name = filepath.Base(m.FilePath)
	}
	body, err := json.Marshal(mediaPayload{
		Number:    m.Number,
		MediaType: MediaType(m.FilePath),
		MimeType:  MimeType(m.FilePath),
		Caption:   m.Caption,
		Media:     base64.StdEncoding.EncodeToString(raw),
		FileName:  name,
		Delay:     m.DelayMS,
	})
	if err != nil {
		c.log.Error("encode media payload failed", logx.Err(err))
		return false
	}
	return c.send(ctx, metrics.OpMedia, c.policy.Media, c.endpoint("message/sendMedia"), m.Number, body)
}

type sendResult struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

func (c *Client) send(ctx context.Context, op string, p OpPolicy, endpoint, number string, body []byte) bool {
	log := c.log.With(logx.String("op", op), logx.String("number", number))
	media := op == metrics.OpMedia

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				log.Warn("send aborted", logx.Err(err))
				return false
			}
		}

		actx, cancel := context.WithTimeout(ctx, p.Timeout)
		start := time.Now()
		status, resp, err := c.do(actx, http.MethodPost, endpoint, body)
		cancel()
		if err == nil && status >= 200 && status < 300 {
			var r sendResult
			if derr := json.Unmarshal(resp, &r); derr != nil {
				err = fmt.Errorf("decode response: %w", derr)
			} else {
				c.sink.GatewayAttempt(op, attempt, metrics.StatusClass2xx, time.Since(start))
				id := r.Key.ID
				if id == "" {
					id = "N/A"
				}
				log.Info("sent", logx.Int("attempt", attempt), logx.String("message_id", id))
				return true
			}
		}
		c.sink.GatewayAttempt(op, attempt, metrics.ClassifyStatus(status, err), time.Since(start))

		// The caller gave up (interrupt); don't retry or sleep.
		if cerr := ctx.Err(); cerr != nil {
			log.Warn("send aborted", logx.Int("attempt", attempt), logx.Err(cerr))
			return false
		}

		var wait time.Duration
		oc := classify(media, status, err)
		fields := []logx.Field{logx.Int("attempt", attempt), logx.Int("max_attempts", c.policy.MaxAttempts)}
		if err != nil {
			fields = append(fields, logx.Err(err))
		} else {
			fields = append(fields, logx.Int("status", status), logx.String("body", snippet(resp)))
		}
		switch oc {
		case outcomeFatal:
			log.Error(fatalMessage(status), fields...)
			return false
		case outcomeRateLimited:
			wait = p.RateLimitCooldown
			log.Warn("rate limited by gateway", fields...)
		case outcomeTimeout:
			wait = p.TimeoutBackoff
			log.Warn("gateway timeout", fields...)
		default:
			wait = p.ErrorBackoff
			log.Error("send failed", fields...)
		}

		if attempt == c.policy.MaxAttempts {
			break
		}
		c.sink.GatewayRetry(op, oc.String())
		if err := c.sleep(ctx, wait); err != nil {
			log.Warn("send aborted", logx.Err(err))
			return false
		}
	}
	log.Error("send failed after all attempts", logx.Int("max_attempts", c.policy.MaxAttempts))
	return false
}

func fatalMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "gateway rejected api key"
	case http.StatusNotFound:
		return "gateway instance not found"
	case http.StatusRequestEntityTooLarge:
		return "attachment too large for gateway"
	default:
		return "gateway rejected request"
	}
}

func (c *Client) endpoint(path string) string {
	return c.cfg.ServerURL + "/" + path + "/" + url.PathEscape(c.cfg.Instance)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
