package api

import (
	"errors"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/funhub/offers/internal/payment"
	"github.com/funhub/offers/internal/service"
)

const dateLayout = "02 Jan 2006"

var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment {{if .Success}}successful{{else}}result{{end}}</title>
</head>
<body>
<main data-success="{{.Success}}">
<h1>{{.Message}}</h1>
{{if .TransactionNo}}<p>Transaction: <span id="transaction">{{.TransactionNo}}</span></p>{{end}}
{{if .OfferName}}<p>Offer: {{.OfferName}}</p>{{end}}
{{if .ClaimID}}<p>Claim: <span id="claim">{{.ClaimID}}</span></p>{{end}}
{{if .RedemptionStart}}<p>Redeem between {{.RedemptionStart}} and {{.RedemptionEnd}}</p>{{end}}
</main>
</body>
</html>
`))

// resultView is what the payment result page shows the user.
type resultView struct {
	Message         string
	TransactionNo   string
	Success         bool
	OfferName       string
	ClaimID         int64
	RedemptionStart string
	RedemptionEnd   string
}

// CallbackHandler receives the gateway's post-payment redirect and renders
// the result page.
type CallbackHandler struct {
	claims Claims
	log    *zap.Logger
}

// NewCallbackHandler creates a new CallbackHandler
func NewCallbackHandler(claims Claims, log *zap.Logger) *CallbackHandler {
	return &CallbackHandler{claims: claims, log: log}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, resultView{Message: "Invalid payment response"})
		return
	}

	cb, err := payment.ParseCallback(r.PostForm)
	if err != nil {
		h.log.Warn("rejected payment callback", zap.Error(err))
		h.render(w, http.StatusBadRequest, resultView{Message: "Invalid payment response"})
		return
	}

	out, err := h.claims.HandleCallback(r.Context(), cb)
	if err != nil {
		view := resultView{TransactionNo: cb.InvoiceNo}
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrHashMismatch), errors.Is(err, service.ErrInvalidCallback):
			status = http.StatusBadRequest
			view.Message = "We could not verify this payment. Please contact support."
		case errors.Is(err, service.ErrTransactionNotFound), errors.Is(err, service.ErrClaimNotFound):
			status = http.StatusNotFound
			view.Message = "Transaction not found"
		default:
			view.Message = "Something went wrong while processing your payment. Please try again later."
		}
		h.render(w, status, view)
		return
	}

	view := resultView{
		Message:       out.Message,
		TransactionNo: out.TransactionNo,
		Success:       out.Success(),
		OfferName:     out.OfferName,
		ClaimID:       out.ClaimID,
	}
	if out.RedemptionStartDate != nil && out.RedemptionEndDate != nil {
		view.RedemptionStart = out.RedemptionStartDate.Format(dateLayout)
		view.RedemptionEnd = out.RedemptionEndDate.Format(dateLayout)
	}
	h.render(w, http.StatusOK, view)
}

func (h *CallbackHandler) render(w http.ResponseWriter, status int, view resultView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := resultPage.Execute(w, view); err != nil {
		h.log.Error("failed to render payment result", zap.Error(err))
	}
}
