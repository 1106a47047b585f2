package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/orchardlane/storefront/internal/domain"
	"github.com/orchardlane/storefront/internal/repositories"
)

// ErrAddressInvalidInput indicates the caller supplied invalid input.
var ErrAddressInvalidInput = errors.New("address service: invalid input")

// ErrAddressNotFound indicates the address does not exist for the caller.
var ErrAddressNotFound = errors.New("address service: not found")

// ErrAddressUnavailable indicates the backend cannot serve the request.
var ErrAddressUnavailable = errors.New("address service: unavailable")

// CreateAddressCommand adds a saved address to the user's address book.
type CreateAddressCommand struct {
	UserID     string
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
}

// AddressService manages saved shipping addresses.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]domain.Address, error)
	CreateAddress(ctx context.Context, cmd CreateAddressCommand) (domain.Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
}

// AddressServiceDeps wires the address repository.
type AddressServiceDeps struct {
	Addresses   repositories.AddressRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	newID     func() string
}

// NewAddressService constructs an AddressService.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &addressService{
		addresses: deps.Addresses,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]domain.Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrAddressInvalidInput
	}
	addresses, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, ErrAddressUnavailable
	}
	return addresses, nil
}

func (s *addressService) CreateAddress(ctx context.Context, cmd CreateAddressCommand) (domain.Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Address{}, ErrAddressInvalidInput
	}
	if strings.TrimSpace(cmd.Name) == "" || strings.TrimSpace(cmd.Line1) == "" {
		return domain.Address{}, fmt.Errorf("%w: name and address line are required", ErrAddressInvalidInput)
	}
	if strings.TrimSpace(cmd.City) == "" || strings.TrimSpace(cmd.PostalCode) == "" {
		return domain.Address{}, fmt.Errorf("%w: city and postal code are required", ErrAddressInvalidInput)
	}

	now := s.now()
	address := domain.Address{
		ID:         "addr_" + strings.ToLower(s.newID()),
		UserID:     userID,
		Name:       strings.TrimSpace(cmd.Name),
		Phone:      strings.TrimSpace(cmd.Phone),
		Line1:      strings.TrimSpace(cmd.Line1),
		Line2:      strings.TrimSpace(cmd.Line2),
		City:       strings.TrimSpace(cmd.City),
		State:      strings.TrimSpace(cmd.State),
		PostalCode: strings.TrimSpace(cmd.PostalCode),
		Country:    firstNonEmpty(cmd.Country, "IN"),
		IsDefault:  cmd.IsDefault,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := s.addresses.Create(ctx, address)
	if err != nil {
		return domain.Address{}, ErrAddressUnavailable
	}
	return created, nil
}

func (s *addressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return ErrAddressInvalidInput
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		if isRepoNotFound(err) {
			return ErrAddressNotFound
		}
		return ErrAddressUnavailable
	}
	return nil
}
