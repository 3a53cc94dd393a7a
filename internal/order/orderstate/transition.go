// Package orderstate implements the Order State Machine (C6): a table-driven
// legality check for every transition in spec §4.6, independent of
// persistence so it can be tested without a database.
package orderstate

import (
	"fmt"

	"github.com/timour/order-microservices/internal/order/domain"
	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/authn"
)

// Actor identifies who is attempting a transition, for the role-gating rule
// in spec §4.6's table. CourierService and Saga act as internal system
// actors, never as an end-user role.
type Actor string

const (
	ActorCustomer      Actor = "CUSTOMER"
	ActorStoreOwner    Actor = "STORE_OWNER"
	ActorSaga          Actor = "SAGA"
	ActorCourierService Actor = "COURIER_SERVICE"
	ActorAssignedCourier Actor = "ASSIGNED_COURIER"
)

type rule struct {
	from    domain.Status
	to      domain.Status
	allowed map[Actor]bool
}

var transitions = []rule{
	{domain.StatusPending, domain.StatusReservingStock, map[Actor]bool{ActorStoreOwner: true}},
	{domain.StatusReservingStock, domain.StatusPreparing, map[Actor]bool{ActorSaga: true}},
	{domain.StatusReservingStock, domain.StatusPending, map[Actor]bool{ActorSaga: true}},
	{domain.StatusPreparing, domain.StatusOnTheWay, map[Actor]bool{ActorAssignedCourier: true}},
	{domain.StatusOnTheWay, domain.StatusDelivered, map[Actor]bool{ActorAssignedCourier: true}},
	{domain.StatusPending, domain.StatusCancelled, map[Actor]bool{ActorCustomer: true, ActorStoreOwner: true}},
	{domain.StatusPreparing, domain.StatusCancelled, map[Actor]bool{ActorStoreOwner: true}},
}

// CheckTransition validates that moving order from its current status to
// `to`, attempted by actor, is legal per the table in spec §4.6. It does not
// mutate anything; callers apply the new status themselves inside their own
// transaction after this check passes, having re-read current status under
// a row lock to guard against TOCTOU.
func CheckTransition(current domain.Status, to domain.Status, actor Actor) error {
	if current == domain.StatusDelivered || current == domain.StatusCancelled {
		return apperr.New(apperr.InvalidState, fmt.Sprintf("order is terminal (%s); no further transitions allowed", current))
	}

	for _, r := range transitions {
		if r.from == current && r.to == to {
			if !r.allowed[actor] {
				return apperr.New(apperr.AuthZ, fmt.Sprintf("actor %s may not transition order from %s to %s", actor, current, to))
			}
			return nil
		}
	}

	return apperr.New(apperr.InvalidState, fmt.Sprintf("transition %s -> %s is not a legal order state transition", current, to))
}

// ActorForRole maps an authenticated principal's role to the Actor enum used
// by CheckTransition for customer/store-owner initiated transitions.
// CourierService and Saga actors are never derived from a bearer token —
// they are asserted by the internal components that play those roles.
func ActorForRole(p authn.Principal, order *domain.Order) (Actor, error) {
	switch {
	case p.HasRole(authn.RoleStoreOwner) && p.StoreID == order.StoreID:
		return ActorStoreOwner, nil
	case p.HasRole(authn.RoleCustomer) && p.UserID == order.UserID:
		return ActorCustomer, nil
	case p.HasRole(authn.RoleCourier) && order.CourierID != nil && *order.CourierID == p.UserID:
		return ActorAssignedCourier, nil
	default:
		return "", apperr.New(apperr.AuthZ, "principal has no role applicable to this order")
	}
}
