package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codr1/courtbook/internal/booking"
)

var mockNamespace = uuid.MustParse("6f1d3c1e-4b8a-4f0e-9d7c-2a5b8c9e0f11")

// MockAdapter issues preferences without calling any gateway. The same
// request always yields the same preference.
type MockAdapter struct {
	baseURL string
}

var _ booking.PaymentPreferenceAdapter = (*MockAdapter)(nil)

func NewMockAdapter(baseURL string) *MockAdapter {
	return &MockAdapter{baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *MockAdapter) Name() string { return "mock" }

func (a *MockAdapter) CreatePreference(_ context.Context, req booking.PreferenceRequest) (booking.Preference, error) {
	key := fmt.Sprintf("%d:%d:%s:%d", req.BookingID, req.AmountCents, req.Currency, req.ExpiresAt.Unix())
	id := "mock_" + uuid.NewSHA1(mockNamespace, []byte(key)).String()
	checkout := fmt.Sprintf("%s/mock-checkout/%s", a.baseURL, id)
	return booking.Preference{
		ID:               id,
		InitPoint:        checkout,
		SandboxInitPoint: checkout,
	}, nil
}
