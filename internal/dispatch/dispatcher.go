package dispatch

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"backjob/internal/auth"
)

const (
	// DefaultUserAgent identifies self-calls in access logs.
	DefaultUserAgent = "backjob/1.0"

	// DefaultConnectTimeout bounds dialing the application.
	DefaultConnectTimeout = time.Second

	// DefaultHoldOpen is how long the monitor-leg socket stays open after the
	// request is written. Some servers drop requests whose client disconnects
	// immediately.
	DefaultHoldOpen = time.Second
)

const tracerName = "backjob/dispatch"

// Dispatcher sends authenticated self-calls.
type Dispatcher struct {
	secret         string
	resolver       RouteResolver
	userAgent      string
	connectTimeout time.Duration
	holdOpen       time.Duration
	selfAddr       string
	tlsConfig      *tls.Config
	logger         *slog.Logger
	tracer         trace.Tracer
	propagator     propagation.TextMapPropagator
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Dispatcher) { d.userAgent = ua }
}

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.connectTimeout = t }
}

// WithHoldOpen sets how long the monitor-leg socket is kept open.
func WithHoldOpen(t time.Duration) Option {
	return func(d *Dispatcher) { d.holdOpen = t }
}

// WithSelfAddr dials addr instead of the origin's host and port. The Host
// header still names the origin.
func WithSelfAddr(addr string) Option {
	return func(d *Dispatcher) { d.selfAddr = addr }
}

// WithTLSConfig sets the client TLS configuration for port 443.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(d *Dispatcher) { d.tlsConfig = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracerProvider sets the tracer provider used for dispatch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// WithPropagator sets the propagator that injects trace context headers.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(d *Dispatcher) { d.propagator = p }
}

// New creates a Dispatcher that signs job ids with secret.
func New(secret string, resolver RouteResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		secret:         secret,
		resolver:       resolver,
		userAgent:      DefaultUserAgent,
		connectTimeout: DefaultConnectTimeout,
		holdOpen:       DefaultHoldOpen,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.propagator == nil {
		d.propagator = otel.GetTextMapPropagator()
	}
	return d
}

// Secret returns the check-token key.
func (d *Dispatcher) Secret() string { return d.secret }

// Monitor starts the monitor leg for jobID and returns as soon as the request
// is written. The connection is closed in the background after the hold-open
// period.
func (d *Dispatcher) Monitor(ctx context.Context, origin Origin, jobID int64, call Call) error {
	trigger := url.Values{}
	trigger.Set(ParamMonitor, strconv.FormatInt(jobID, 10))

	ctx, span := d.startSpan(ctx, "backjob.dispatch.monitor", origin, jobID, call)
	defer span.End()

	conn, err := d.send(ctx, origin, jobID, call, trigger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	go func() {
		time.Sleep(d.holdOpen)
		conn.Close()
	}()
	return nil
}

// Worker runs the worker leg for jobID and copies the response body to out.
// A non-2xx response is returned as a *StatusError after the body is copied.
func (d *Dispatcher) Worker(ctx context.Context, origin Origin, jobID int64, call Call, out io.Writer) error {
	ctx, span := d.startSpan(ctx, "backjob.dispatch.worker", origin, jobID, call)
	defer span.End()

	conn, err := d.send(ctx, origin, jobID, call, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	addr := d.dialAddr(origin)
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		terr := &TransportError{Op: "read", Addr: addr, Err: err}
		span.RecordError(terr)
		span.SetStatus(codes.Error, terr.Error())
		return terr
	}
	defer resp.Body.Close()
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	if out == nil {
		out = io.Discard
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		terr := &TransportError{Op: "read", Addr: addr, Err: err}
		span.RecordError(terr)
		span.SetStatus(codes.Error, terr.Error())
		return terr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		span.SetStatus(codes.Error, serr.Error())
		return serr
	}
	return nil
}

func (d *Dispatcher) startSpan(ctx context.Context, name string, origin Origin, jobID int64, call Call) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("backjob.job_id", jobID),
			attribute.String("backjob.route", call.Route),
			semconv.HTTPRequestMethodKey.String(call.Normalize().Method),
			semconv.ServerAddress(origin.Host),
			semconv.ServerPort(origin.normalized().Port),
		),
	)
}

func (d *Dispatcher) dialAddr(origin Origin) string {
	if d.selfAddr != "" {
		return d.selfAddr
	}
	return origin.Address()
}

// send dials the application and writes the signed request.
func (d *Dispatcher) send(ctx context.Context, origin Origin, jobID int64, call Call, trigger url.Values) (net.Conn, error) {
	call = call.Normalize()
	if !call.AsCurrentUser {
		origin = origin.Anonymous()
	}

	raw, err := d.buildRequest(ctx, origin, jobID, call, trigger)
	if err != nil {
		return nil, err
	}

	addr := d.dialAddr(origin)
	conn, err := d.dial(ctx, origin, addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Addr: addr, Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(raw); err != nil {
		conn.Close()
		return nil, &TransportError{Op: "write", Addr: addr, Err: err}
	}
	_ = conn.SetWriteDeadline(time.Time{})

	d.logger.DebugContext(ctx, "self-call sent",
		"job_id", jobID, "addr", addr, "route", call.Route, "monitor", trigger.Has(ParamMonitor))
	return conn, nil
}

func (d *Dispatcher) dial(ctx context.Context, origin Origin, addr string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	netDialer := &net.Dialer{Timeout: d.connectTimeout}
	if !origin.UseTLS() {
		return netDialer.DialContext(dialCtx, "tcp", addr)
	}

	cfg := &tls.Config{}
	if d.tlsConfig != nil {
		cfg = d.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = origin.Host
	}
	tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: cfg}
	return tlsDialer.DialContext(dialCtx, "tcp", addr)
}

// buildRequest composes the raw HTTP/1.1 request bytes.
func (d *Dispatcher) buildRequest(ctx context.Context, origin Origin, jobID int64, call Call, trigger url.Values) ([]byte, error) {
	uri, err := d.resolver.Resolve(call.Route, call.Params)
	if err != nil {
		return nil, err
	}
	path, err := RequestPath(uri)
	if err != nil {
		return nil, err
	}

	if trigger == nil {
		trigger = url.Values{}
	}
	id := strconv.FormatInt(jobID, 10)
	trigger.Set(ParamJobID, id)
	trigger.Set(ParamCheck, auth.CheckToken(d.secret, jobID))
	path = withTrigger(path, trigger)

	const lf = "\r\n"
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1%s", call.Method, path, lf)
	b.WriteString("Host: " + origin.HostHeader() + lf)
	b.WriteString("User-Agent: " + d.userAgent + lf)
	b.WriteString("Cache-Control: no-store, no-cache, must-revalidate" + lf)
	b.WriteString("Cache-Control: post-check=0, pre-check=0" + lf)
	b.WriteString("Pragma: no-cache" + lf)

	if cookie := cookieHeader(origin.Cookies); cookie != "" {
		b.WriteString("Cookie: " + cookie + lf)
	}
	if origin.Authorization != "" {
		b.WriteString("Authorization: " + origin.Authorization + lf)
	}

	carrier := propagation.HeaderCarrier(http.Header{})
	d.propagator.Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		b.WriteString(http.CanonicalHeaderKey(k) + ": " + carrier.Get(k) + lf)
	}

	body := call.Body()
	if body != "" {
		b.WriteString("Content-Type: application/x-www-form-urlencoded" + lf)
		b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + lf)
	}
	b.WriteString("Connection: Close" + lf + lf)
	b.WriteString(body)

	return []byte(b.String()), nil
}

func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if s := (&http.Cookie{Name: c.Name, Value: c.Value}).String(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}
