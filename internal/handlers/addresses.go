package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/platform/auth"
	"github.com/orchardlane/storefront/internal/platform/httpx"
	"github.com/orchardlane/storefront/internal/services"
)

// MeHandlers serves the signed-in user's account resources.
type MeHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewMeHandlers constructs the /me endpoints.
func NewMeHandlers(authn *auth.Authenticator, addresses services.AddressService) *MeHandlers {
	return &MeHandlers{
		authn:     authn,
		addresses: addresses,
	}
}

// Routes wires the /me endpoints onto the provided router. Every route
// requires a verified Firebase identity.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/addresses", h.listAddresses)
	r.Post("/addresses", h.createAddress)
	r.Delete("/addresses/{addressId}", h.deleteAddress)
}

type addressPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"is_default"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type createAddressRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	IsDefault  bool   `json:"is_default,omitempty"`
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	addresses, err := h.addresses.ListAddresses(ctx, userID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}

	payload := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		payload = append(payload, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"addresses": payload})
}

func (h *MeHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req createAddressRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	addr, err := h.addresses.CreateAddress(ctx, services.CreateAddressCommand{
		UserID:     userID,
		Name:       req.Name,
		Phone:      req.Phone,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		IsDefault:  req.IsDefault,
	})
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildAddressPayload(addr))
}

func (h *MeHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	if err := h.addresses.DeleteAddress(ctx, userID, chi.URLParam(r, "addressId")); err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.addresses == nil {
		httpx.WriteError(ctx, w, httpx.NewError("address_service_unavailable", "address book is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || identity.UID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("authentication_required", "sign in to manage addresses", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Name:       addr.Name,
		Phone:      addr.Phone,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		IsDefault:  addr.IsDefault,
		CreatedAt:  formatTime(addr.CreatedAt),
	}
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAddressInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("address_unavailable", "addresses are temporarily unavailable", http.StatusServiceUnavailable))
	}
}
