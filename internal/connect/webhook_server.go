// Package connect exposes webhook administration over Connect RPC with a
// JSON codec.
package connect

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sarathsp06/herald/internal/admin"
	"github.com/sarathsp06/herald/internal/auth"
	"github.com/sarathsp06/herald/internal/observability"
	"github.com/sarathsp06/herald/internal/webhooks"
)

// WebhookServer implements the admin WebhookService.
type WebhookServer struct {
	svc    *admin.Service
	log    *zap.Logger
	tracer trace.Tracer
}

func NewWebhookServer(svc *admin.Service, log *zap.Logger) *WebhookServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookServer{
		svc:    svc,
		log:    log,
		tracer: observability.GetTracer("herald.connect.webhook"),
	}
}

// Handler mounts every procedure on one handler. verifier may be nil only
// in tests.
func (s *WebhookServer) Handler(verifier *auth.Verifier) (string, http.Handler, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return "", nil, fmt.Errorf("create otel interceptor: %w", err)
	}
	interceptors := []connect.Interceptor{otelInterceptor}
	if verifier != nil {
		interceptors = append(interceptors, NewAuthInterceptor(verifier))
	}
	opts := []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(interceptors...),
	}

	mux := http.NewServeMux()
	mux.Handle(CreateWebhookProcedure, connect.NewUnaryHandler(CreateWebhookProcedure, s.CreateWebhook, opts...))
	mux.Handle(UpdateWebhookProcedure, connect.NewUnaryHandler(UpdateWebhookProcedure, s.UpdateWebhook, opts...))
	mux.Handle(DeleteWebhookProcedure, connect.NewUnaryHandler(DeleteWebhookProcedure, s.DeleteWebhook, opts...))
	mux.Handle(ToggleWebhookProcedure, connect.NewUnaryHandler(ToggleWebhookProcedure, s.ToggleWebhook, opts...))
	mux.Handle(RegenerateSecretProcedure, connect.NewUnaryHandler(RegenerateSecretProcedure, s.RegenerateSecret, opts...))
	mux.Handle(SendTestWebhookProcedure, connect.NewUnaryHandler(SendTestWebhookProcedure, s.SendTestWebhook, opts...))
	mux.Handle(GetWebhookProcedure, connect.NewUnaryHandler(GetWebhookProcedure, s.GetWebhook, opts...))
	mux.Handle(ListWebhooksProcedure, connect.NewUnaryHandler(ListWebhooksProcedure, s.ListWebhooks, opts...))
	mux.Handle(EmitEventProcedure, connect.NewUnaryHandler(EmitEventProcedure, s.EmitEvent, opts...))
	return "/" + ServiceName + "/", mux, nil
}

func (s *WebhookServer) CreateWebhook(ctx context.Context, req *connect.Request[CreateWebhookRequest]) (*connect.Response[CreateWebhookResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.create", trace.WithAttributes(
		attribute.StringSlice("triggers", req.Msg.Triggers),
	))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	wh, err := s.svc.Create(ctx, orgID, *req.Msg)
	if err != nil {
		return nil, s.fail(span, "create webhook", err)
	}
	span.SetAttributes(attribute.String("webhook_id", wh.ID))
	s.log.Info("Webhook created", zap.String("organization_id", orgID), zap.String("webhook_id", wh.ID))
	return connect.NewResponse(&CreateWebhookResponse{Webhook: toWebhook(wh), Secret: wh.Secret}), nil
}

func (s *WebhookServer) UpdateWebhook(ctx context.Context, req *connect.Request[UpdateWebhookRequest]) (*connect.Response[WebhookResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.update", trace.WithAttributes(attribute.String("webhook_id", req.Msg.ID)))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	wh, err := s.svc.Update(ctx, orgID, req.Msg.ID, req.Msg.UpdateInput)
	if err != nil {
		return nil, s.fail(span, "update webhook", err)
	}
	return connect.NewResponse(&WebhookResponse{Webhook: toWebhook(wh)}), nil
}

func (s *WebhookServer) DeleteWebhook(ctx context.Context, req *connect.Request[WebhookRequest]) (*connect.Response[DeleteWebhookResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.delete", trace.WithAttributes(attribute.String("webhook_id", req.Msg.ID)))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Delete(ctx, orgID, req.Msg.ID); err != nil {
		return nil, s.fail(span, "delete webhook", err)
	}
	s.log.Info("Webhook deleted", zap.String("organization_id", orgID), zap.String("webhook_id", req.Msg.ID))
	return connect.NewResponse(&DeleteWebhookResponse{}), nil
}

func (s *WebhookServer) ToggleWebhook(ctx context.Context, req *connect.Request[WebhookRequest]) (*connect.Response[WebhookResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.toggle", trace.WithAttributes(attribute.String("webhook_id", req.Msg.ID)))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	wh, err := s.svc.Toggle(ctx, orgID, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "toggle webhook", err)
	}
	s.log.Info("Webhook toggled",
		zap.String("organization_id", orgID),
		zap.String("webhook_id", wh.ID),
		zap.Bool("disabled", !wh.Active()),
	)
	return connect.NewResponse(&WebhookResponse{Webhook: toWebhook(wh)}), nil
}

func (s *WebhookServer) RegenerateSecret(ctx context.Context, req *connect.Request[WebhookRequest]) (*connect.Response[RegenerateSecretResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.regenerate_secret", trace.WithAttributes(attribute.String("webhook_id", req.Msg.ID)))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	secret, err := s.svc.RegenerateSecret(ctx, orgID, req.Msg.ID)
	if err != nil {
		return nil, s.fail(span, "regenerate secret", err)
	}
	return connect.NewResponse(&RegenerateSecretResponse{Secret: secret}), nil
}

func (s *WebhookServer) SendTestWebhook(ctx context.Context, req *connect.Request[SendTestWebhookRequest]) (*connect.Response[SendTestWebhookResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.send_test", trace.WithAttributes(
		attribute.String("webhook_id", req.Msg.ID),
		attribute.String("trigger", req.Msg.Trigger),
	))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.SendTest(ctx, orgID, req.Msg.ID, req.Msg.Trigger)
	if err != nil {
		return nil, s.fail(span, "send test webhook", err)
	}
	return connect.NewResponse(res), nil
}

func (s *WebhookServer) GetWebhook(ctx context.Context, req *connect.Request[WebhookRequest]) (*connect.Response[WebhookResponse], error) {
	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	wh, err := s.svc.Get(ctx, orgID, req.Msg.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&WebhookResponse{Webhook: toWebhook(wh)}), nil
}

func (s *WebhookServer) ListWebhooks(ctx context.Context, _ *connect.Request[ListWebhooksRequest]) (*connect.Response[ListWebhooksResponse], error) {
	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.svc.List(ctx, orgID)
	if err != nil {
		return nil, toConnectError(err)
	}
	out := make([]*Webhook, len(list))
	for i, wh := range list {
		out[i] = toWebhook(wh)
	}
	return connect.NewResponse(&ListWebhooksResponse{Webhooks: out}), nil
}

func (s *WebhookServer) EmitEvent(ctx context.Context, req *connect.Request[EmitEventRequest]) (*connect.Response[EmitEventResponse], error) {
	ctx, span := s.tracer.Start(ctx, "connect.webhook.emit_event", trace.WithAttributes(attribute.String("event", req.Msg.Event)))
	defer span.End()

	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.EmitEvent(ctx, orgID, admin.EmitInput{
		Event:       req.Msg.Event,
		NamespaceID: req.Msg.NamespaceID,
		Data:        req.Msg.Data,
	})
	if err != nil {
		return nil, s.fail(span, "emit event", err)
	}
	return connect.NewResponse(&EmitEventResponse{
		EventID:  res.EventID,
		Matched:  res.Matched,
		Enqueued: res.Enqueued,
		Skipped:  res.Skipped,
	}), nil
}

func (s *WebhookServer) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, op+" failed")
	cerr := toConnectError(err)
	if cerr.Code() == connect.CodeInternal {
		s.log.Error("Admin request failed", zap.String("op", op), zap.Error(err))
	}
	return cerr
}

func organization(ctx context.Context) (string, error) {
	claims, ok := auth.FromContext(ctx)
	if !ok {
		return "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return claims.OrganizationID, nil
}

// toConnectError maps domain errors onto Connect codes.
func toConnectError(err error) *connect.Error {
	var (
		validation *webhooks.ValidationError
		notFound   *webhooks.NotFoundError
		conflict   *webhooks.ConflictError
		cerr       *connect.Error
	)
	switch {
	case errors.As(err, &cerr):
		return cerr
	case errors.As(err, &validation):
		return connect.NewError(connect.CodeInvalidArgument, validation)
	case errors.As(err, &notFound):
		return connect.NewError(connect.CodeNotFound, notFound)
	case errors.As(err, &conflict):
		return connect.NewError(connect.CodeAlreadyExists, conflict)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
