package api

import (
	"context"
	"strconv"
	"strings"

	"connectrpc.com/connect"

	"github.com/funhub/offers/internal/service"
)

// OfferServiceClient calls the offer service procedures.
type OfferServiceClient struct {
	previewSchedules *connect.Client[service.CampaignCreateCommand, PreviewSchedulesResponse]
	createCampaign   *connect.Client[service.CampaignCreateCommand, CreateCampaignResponse]
	updateCampaign   *connect.Client[service.CampaignUpdateCommand, UpdateCampaignResponse]
	archiveCampaign  *connect.Client[ArchiveCampaignRequest, ArchiveCampaignResponse]
	reconcileOffer   *connect.Client[ReconcileOfferRequest, ReconcileOfferResponse]
	moveVouchers     *connect.Client[service.MoveCommand, MoveVouchersResponse]
	checkout         *connect.Client[CheckoutRequest, service.CheckoutResult]
	cancelClaim      *connect.Client[CancelClaimRequest, CancelClaimResponse]
}

// NewOfferServiceClient creates a client for the service at baseURL.
func NewOfferServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *OfferServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return &OfferServiceClient{
		previewSchedules: connect.NewClient[service.CampaignCreateCommand, PreviewSchedulesResponse](httpClient, baseURL+PreviewSchedulesProcedure, opts...),
		createCampaign:   connect.NewClient[service.CampaignCreateCommand, CreateCampaignResponse](httpClient, baseURL+CreateCampaignProcedure, opts...),
		updateCampaign:   connect.NewClient[service.CampaignUpdateCommand, UpdateCampaignResponse](httpClient, baseURL+UpdateCampaignProcedure, opts...),
		archiveCampaign:  connect.NewClient[ArchiveCampaignRequest, ArchiveCampaignResponse](httpClient, baseURL+ArchiveCampaignProcedure, opts...),
		reconcileOffer:   connect.NewClient[ReconcileOfferRequest, ReconcileOfferResponse](httpClient, baseURL+ReconcileOfferProcedure, opts...),
		moveVouchers:     connect.NewClient[service.MoveCommand, MoveVouchersResponse](httpClient, baseURL+MoveVouchersProcedure, opts...),
		checkout:         connect.NewClient[CheckoutRequest, service.CheckoutResult](httpClient, baseURL+CheckoutProcedure, opts...),
		cancelClaim:      connect.NewClient[CancelClaimRequest, CancelClaimResponse](httpClient, baseURL+CancelClaimProcedure, opts...),
	}
}

// NewRequest wraps msg in a request made on behalf of userID.
func NewRequest[T any](userID int64, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set(UserHeader, strconv.FormatInt(userID, 10))
	return req
}

func (c *OfferServiceClient) PreviewSchedules(ctx context.Context, req *connect.Request[service.CampaignCreateCommand]) (*connect.Response[PreviewSchedulesResponse], error) {
	return c.previewSchedules.CallUnary(ctx, req)
}

func (c *OfferServiceClient) CreateCampaign(ctx context.Context, req *connect.Request[service.CampaignCreateCommand]) (*connect.Response[CreateCampaignResponse], error) {
	return c.createCampaign.CallUnary(ctx, req)
}

func (c *OfferServiceClient) UpdateCampaign(ctx context.Context, req *connect.Request[service.CampaignUpdateCommand]) (*connect.Response[UpdateCampaignResponse], error) {
	return c.updateCampaign.CallUnary(ctx, req)
}

func (c *OfferServiceClient) ArchiveCampaign(ctx context.Context, req *connect.Request[ArchiveCampaignRequest]) (*connect.Response[ArchiveCampaignResponse], error) {
	return c.archiveCampaign.CallUnary(ctx, req)
}

func (c *OfferServiceClient) ReconcileOffer(ctx context.Context, req *connect.Request[ReconcileOfferRequest]) (*connect.Response[ReconcileOfferResponse], error) {
	return c.reconcileOffer.CallUnary(ctx, req)
}

func (c *OfferServiceClient) MoveVouchers(ctx context.Context, req *connect.Request[service.MoveCommand]) (*connect.Response[MoveVouchersResponse], error) {
	return c.moveVouchers.CallUnary(ctx, req)
}

func (c *OfferServiceClient) Checkout(ctx context.Context, req *connect.Request[CheckoutRequest]) (*connect.Response[service.CheckoutResult], error) {
	return c.checkout.CallUnary(ctx, req)
}

func (c *OfferServiceClient) CancelClaim(ctx context.Context, req *connect.Request[CancelClaimRequest]) (*connect.Response[CancelClaimResponse], error) {
	return c.cancelClaim.CallUnary(ctx, req)
}
