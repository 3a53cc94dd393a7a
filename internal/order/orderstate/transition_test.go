package orderstate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/timour/order-microservices/internal/order/domain"
	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/authn"
)

func TestCheckTransition_LegalMoves(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.Status
		to      domain.Status
		actor   Actor
	}{
		{"store owner accepts", domain.StatusPending, domain.StatusReservingStock, ActorStoreOwner},
		{"saga reserves", domain.StatusReservingStock, domain.StatusPreparing, ActorSaga},
		{"saga reverts", domain.StatusReservingStock, domain.StatusPending, ActorSaga},
		{"courier picks up", domain.StatusPreparing, domain.StatusOnTheWay, ActorAssignedCourier},
		{"courier delivers", domain.StatusOnTheWay, domain.StatusDelivered, ActorAssignedCourier},
		{"customer cancels pending", domain.StatusPending, domain.StatusCancelled, ActorCustomer},
		{"store owner cancels pending", domain.StatusPending, domain.StatusCancelled, ActorStoreOwner},
		{"store owner cancels preparing", domain.StatusPreparing, domain.StatusCancelled, ActorStoreOwner},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.NoError(t, CheckTransition(c.from, c.to, c.actor))
		})
	}
}

func TestCheckTransition_ForbiddenActor(t *testing.T) {
	err := CheckTransition(domain.StatusPending, domain.StatusReservingStock, ActorCustomer)
	appErr, ok := apperr.As(err)
	assert.True(t, ok)
	assert.Equal(t, apperr.AuthZ, appErr.Kind)
}

func TestCheckTransition_NoSuchTransition(t *testing.T) {
	cases := []struct {
		name string
		from domain.Status
		to   domain.Status
	}{
		{"reserving to cancelled is forbidden", domain.StatusReservingStock, domain.StatusCancelled},
		{"on the way to cancelled is forbidden", domain.StatusOnTheWay, domain.StatusCancelled},
		{"preparing to delivered skips on-the-way", domain.StatusPreparing, domain.StatusDelivered},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckTransition(c.from, c.to, ActorStoreOwner)
			appErr, ok := apperr.As(err)
			assert.True(t, ok)
			assert.Equal(t, apperr.InvalidState, appErr.Kind)
		})
	}
}

func TestCheckTransition_TerminalStatesRejectEverything(t *testing.T) {
	for _, terminal := range []domain.Status{domain.StatusDelivered, domain.StatusCancelled} {
		err := CheckTransition(terminal, domain.StatusPreparing, ActorSaga)
		appErr, ok := apperr.As(err)
		assert.True(t, ok)
		assert.Equal(t, apperr.InvalidState, appErr.Kind)
	}
}

func TestActorForRole(t *testing.T) {
	storeID := "store-1"
	courierUser := "courier-user-1"
	order := &domain.Order{StoreID: storeID, UserID: "cust-1", CourierID: &courierUser}

	owner := authn.Principal{UserID: "owner-1", StoreID: storeID, Roles: map[authn.Role]bool{authn.RoleStoreOwner: true}}
	actor, err := ActorForRole(owner, order)
	assert.NoError(t, err)
	assert.Equal(t, ActorStoreOwner, actor)

	customer := authn.Principal{UserID: "cust-1", Roles: map[authn.Role]bool{authn.RoleCustomer: true}}
	actor, err = ActorForRole(customer, order)
	assert.NoError(t, err)
	assert.Equal(t, ActorCustomer, actor)

	courier := authn.Principal{UserID: courierUser, Roles: map[authn.Role]bool{authn.RoleCourier: true}}
	actor, err = ActorForRole(courier, order)
	assert.NoError(t, err)
	assert.Equal(t, ActorAssignedCourier, actor)

	stranger := authn.Principal{UserID: "someone-else", Roles: map[authn.Role]bool{authn.RoleCustomer: true}}
	_, err = ActorForRole(stranger, order)
	assert.Error(t, err)
}
