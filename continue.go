package ucp

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

var continuePage = template.Must(template.New("continue").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <title>Continue checkout</title>
  <style>
    body{font-family: system-ui, -apple-system, Segoe UI, Roboto, Arial, sans-serif; margin: 2rem; line-height: 1.4;}
    .card{max-width: 820px; padding: 1.25rem 1.5rem; border: 1px solid #ddd; border-radius: 10px;}
    code{background:#f6f6f6; padding: 0.1rem 0.35rem; border-radius: 6px;}
    a.button{display:inline-block; padding: .7rem 1rem; border-radius: 10px; border: 1px solid #222; text-decoration:none; color:#fff; background:#222;}
    .muted{color:#555}
  </style>
</head>
<body>
  <div class="card">
    <h1>Continue checkout</h1>
    <p class="muted">UCP session: <code>{{.ID}}</code></p>
    <p>Payment and any remaining buyer steps are completed in the merchant checkout.</p>
    <h3>Items</h3>
    <ul>
    {{- range .Items}}
      <li><code>{{.SKU}}</code> &times; {{.Quantity}}</li>
    {{- else}}
      <li class="muted">No items</li>
    {{- end}}
    </ul>
    {{- if .CartID}}
    <p class="muted">Cart id: <code>{{.CartID}}</code></p>
    {{- end}}
    <p><a class="button" href="{{.CheckoutURL}}" rel="noopener">Open merchant checkout</a></p>
  </div>
</body>
</html>
`))

type continuePageData struct {
	ID          string
	Items       []LineItem
	CartID      string
	CheckoutURL string
}

// handleContinue renders the browser handoff page for a session. The cart id
// is shown only when the provider exposes debug data.
func (h *CheckoutHandler) handleContinue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view := h.service.GetSession
	if viewer, ok := h.service.(SessionViewer); ok {
		view = viewer.ViewSession
	}
	session, err := view(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	data := continuePageData{
		ID:          session.ID,
		Items:       session.LineItems,
		CheckoutURL: h.cfg.checkoutURL,
	}
	if session.Debug != nil {
		data.CartID = session.Debug.CartID
	}
	var buf bytes.Buffer
	if err := continuePage.Execute(&buf, data); err != nil {
		h.cfg.logger.ErrorContext(r.Context(), "render continue page", slog.Any("error", err))
		writeJSONError(w, NewProcessingError("unable to render page"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
