// Package api exposes the offer services over connect RPC and plain HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/payment"
	"github.com/funhub/offers/internal/schedule"
	"github.com/funhub/offers/internal/service"
)

// ServiceName is the fully-qualified name of the offer service.
const ServiceName = "funhub.offers.v1.OfferService"

// Procedure paths of the offer service.
const (
	PreviewSchedulesProcedure = "/" + ServiceName + "/PreviewSchedules"
	CreateCampaignProcedure   = "/" + ServiceName + "/CreateCampaign"
	UpdateCampaignProcedure   = "/" + ServiceName + "/UpdateCampaign"
	ArchiveCampaignProcedure  = "/" + ServiceName + "/ArchiveCampaign"
	ReconcileOfferProcedure   = "/" + ServiceName + "/ReconcileOffer"
	MoveVouchersProcedure     = "/" + ServiceName + "/MoveVouchers"
	CheckoutProcedure         = "/" + ServiceName + "/Checkout"
	CancelClaimProcedure      = "/" + ServiceName + "/CancelClaim"
)

// UserHeader carries the authenticated user id set by the gateway in front
// of this service.
const UserHeader = "X-User-Id"

// Campaigns is the campaign administration the transport needs.
type Campaigns interface {
	PreviewSchedules(cmd service.CampaignCreateCommand) ([]schedule.Slot, error)
	Create(ctx context.Context, cmd service.CampaignCreateCommand, actorUserID int64) (*model.Campaign, *service.Result, error)
	Update(ctx context.Context, cmd service.CampaignUpdateCommand, actorUserID int64) (*service.Result, error)
	Archive(ctx context.Context, campaignID, actorUserID int64) error
	ReconcileOffer(ctx context.Context, offerID int64) (int, error)
}

// Claims is the claim lifecycle the transport needs.
type Claims interface {
	Checkout(ctx context.Context, cmd service.CheckoutCommand) (*service.CheckoutResult, error)
	HandleCallback(ctx context.Context, cb *payment.Callback) (*service.CallbackOutcome, error)
	Cancel(ctx context.Context, claimID, userID int64) (*model.Claim, error)
}

// Vouchers is the voucher ledger the transport needs.
type Vouchers interface {
	Move(ctx context.Context, cmd service.MoveCommand) (int, error)
}

type PreviewSchedulesResponse struct {
	Schedules []schedule.Slot `json:"schedules"`
	Total     int             `json:"total"`
}

type CreateCampaignResponse struct {
	Campaign *model.Campaign `json:"campaign"`
	Result   *service.Result `json:"result"`
}

type UpdateCampaignResponse struct {
	Result *service.Result `json:"result"`
}

type ArchiveCampaignRequest struct {
	CampaignID int64 `json:"campaign_id"`
}

type ArchiveCampaignResponse struct {
	CampaignID int64        `json:"campaign_id"`
	Status     model.Status `json:"status"`
}

type ReconcileOfferRequest struct {
	OfferID int64 `json:"offer_id"`
}

type ReconcileOfferResponse struct {
	OfferID  int64 `json:"offer_id"`
	Quantity int   `json:"quantity"`
}

type MoveVouchersResponse struct {
	Moved int `json:"moved"`
}

type CheckoutRequest struct {
	OfferID        int64                `json:"offer_id"`
	PurchaseMethod model.PurchaseMethod `json:"purchase_method"`
}

type CancelClaimRequest struct {
	ClaimID int64 `json:"claim_id"`
}

type CancelClaimResponse struct {
	Claim *model.Claim `json:"claim"`
}

// OfferServer implements the offer service procedures.
type OfferServer struct {
	campaigns Campaigns
	claims    Claims
	vouchers  Vouchers
	log       *zap.Logger
}

// NewOfferServer creates a new OfferServer
func NewOfferServer(campaigns Campaigns, claims Claims, vouchers Vouchers, log *zap.Logger) *OfferServer {
	return &OfferServer{campaigns: campaigns, claims: claims, vouchers: vouchers, log: log}
}

// NewOfferServiceHandler builds an HTTP handler serving every procedure of
// the offer service. It returns the path to mount it on.
func NewOfferServiceHandler(s *OfferServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{
		WithJSON(),
		connect.WithInterceptors(loggingInterceptor(s.log)),
	}, opts...)

	handlers := map[string]http.Handler{
		PreviewSchedulesProcedure: connect.NewUnaryHandler(PreviewSchedulesProcedure, s.PreviewSchedules, opts...),
		CreateCampaignProcedure:   connect.NewUnaryHandler(CreateCampaignProcedure, s.CreateCampaign, opts...),
		UpdateCampaignProcedure:   connect.NewUnaryHandler(UpdateCampaignProcedure, s.UpdateCampaign, opts...),
		ArchiveCampaignProcedure:  connect.NewUnaryHandler(ArchiveCampaignProcedure, s.ArchiveCampaign, opts...),
		ReconcileOfferProcedure:   connect.NewUnaryHandler(ReconcileOfferProcedure, s.ReconcileOffer, opts...),
		MoveVouchersProcedure:     connect.NewUnaryHandler(MoveVouchersProcedure, s.MoveVouchers, opts...),
		CheckoutProcedure:         connect.NewUnaryHandler(CheckoutProcedure, s.Checkout, opts...),
		CancelClaimProcedure:      connect.NewUnaryHandler(CancelClaimProcedure, s.CancelClaim, opts...),
	}

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// PreviewSchedules returns the schedules a campaign would produce
func (s *OfferServer) PreviewSchedules(
	ctx context.Context,
	req *connect.Request[service.CampaignCreateCommand],
) (*connect.Response[PreviewSchedulesResponse], error) {
	slots, err := s.campaigns.PreviewSchedules(*req.Msg)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&PreviewSchedulesResponse{
		Schedules: slots,
		Total:     schedule.Total(slots),
	}), nil
}

// CreateCampaign creates a campaign and materializes its offers
func (s *OfferServer) CreateCampaign(
	ctx context.Context,
	req *connect.Request[service.CampaignCreateCommand],
) (*connect.Response[CreateCampaignResponse], error) {
	actor, err := actorFrom(req.Header())
	if err != nil {
		return nil, err
	}

	campaign, result, err := s.campaigns.Create(ctx, *req.Msg, actor)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&CreateCampaignResponse{Campaign: campaign, Result: result}), nil
}

// UpdateCampaign edits a campaign and reconciles its offers
func (s *OfferServer) UpdateCampaign(
	ctx context.Context,
	req *connect.Request[service.CampaignUpdateCommand],
) (*connect.Response[UpdateCampaignResponse], error) {
	actor, err := actorFrom(req.Header())
	if err != nil {
		return nil, err
	}

	result, err := s.campaigns.Update(ctx, *req.Msg, actor)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&UpdateCampaignResponse{Result: result}), nil
}

// ArchiveCampaign archives a campaign with its schedules and offers
func (s *OfferServer) ArchiveCampaign(
	ctx context.Context,
	req *connect.Request[ArchiveCampaignRequest],
) (*connect.Response[ArchiveCampaignResponse], error) {
	actor, err := actorFrom(req.Header())
	if err != nil {
		return nil, err
	}

	if err := s.campaigns.Archive(ctx, req.Msg.CampaignID, actor); err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&ArchiveCampaignResponse{
		CampaignID: req.Msg.CampaignID,
		Status:     model.StatusArchived,
	}), nil
}

// ReconcileOffer recomputes an offer's cached quantity
func (s *OfferServer) ReconcileOffer(
	ctx context.Context,
	req *connect.Request[ReconcileOfferRequest],
) (*connect.Response[ReconcileOfferResponse], error) {
	if _, err := actorFrom(req.Header()); err != nil {
		return nil, err
	}

	quantity, err := s.campaigns.ReconcileOffer(ctx, req.Msg.OfferID)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&ReconcileOfferResponse{OfferID: req.Msg.OfferID, Quantity: quantity}), nil
}

// MoveVouchers transfers unclaimed vouchers to another offer
func (s *OfferServer) MoveVouchers(
	ctx context.Context,
	req *connect.Request[service.MoveCommand],
) (*connect.Response[MoveVouchersResponse], error) {
	actor, err := actorFrom(req.Header())
	if err != nil {
		return nil, err
	}

	cmd := *req.Msg
	cmd.ActorUserID = actor
	moved, err := s.vouchers.Move(ctx, cmd)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&MoveVouchersResponse{Moved: moved}), nil
}

// Checkout reserves a voucher for the calling user
func (s *OfferServer) Checkout(
	ctx context.Context,
	req *connect.Request[CheckoutRequest],
) (*connect.Response[service.CheckoutResult], error) {
	user, err := actorFrom(req.Header())
	if err != nil {
		return nil, err
	}

	method := req.Msg.PurchaseMethod
	if method == "" {
		method = model.PurchaseFiat
	}
	res, err := s.claims.Checkout(ctx, service.CheckoutCommand{
		OfferID:        req.Msg.OfferID,
		UserID:         user,
		PurchaseMethod: method,
	})
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(res), nil
}

// CancelClaim abandons the calling user's pending claim
func (s *OfferServer) CancelClaim(
	ctx context.Context,
	req *connect.Request[CancelClaimRequest],
) (*connect.Response[CancelClaimResponse], error) {
	user, err := actorFrom(req.Header())
	if err != nil {
		return nil, err
	}

	claim, err := s.claims.Cancel(ctx, req.Msg.ClaimID, user)
	if err != nil {
		return nil, s.toConnectError(err)
	}
	return connect.NewResponse(&CancelClaimResponse{Claim: claim}), nil
}

func actorFrom(h http.Header) (int64, error) {
	raw := h.Get(UserHeader)
	if raw == "" {
		return 0, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("missing %s header", UserHeader))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("invalid %s header", UserHeader))
	}
	return id, nil
}

// toConnectError maps service errors to connect codes. Unexpected errors
// are logged and reported as internal.
func (s *OfferServer) toConnectError(err error) error {
	var (
		validation *service.ValidationError
		agreement  *service.AgreementExceededError
	)
	switch {
	case errors.As(err, &validation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &agreement):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, service.ErrCampaignNotFound),
		errors.Is(err, service.ErrOfferNotFound),
		errors.Is(err, service.ErrClaimNotFound),
		errors.Is(err, service.ErrTransactionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, service.ErrCampaignArchived),
		errors.Is(err, service.ErrOfferNotAvailable),
		errors.Is(err, service.ErrInvalidClaimState),
		errors.Is(err, service.ErrUnsupportedPurchaseMethod):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, service.ErrNoStock):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		s.log.Error("request failed", zap.Error(err))
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

func loggingInterceptor(log *zap.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("procedure", req.Spec().Procedure),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, zap.String("code", connect.CodeOf(err).String()))
				log.Info("rpc failed", fields...)
				return res, err
			}
			log.Debug("rpc handled", fields...)
			return res, err
		}
	}
}
