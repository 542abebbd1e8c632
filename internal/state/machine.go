// Package state holds the order lifecycle state machine: the closed set of
// order statuses, the actors allowed to move between them, and the transition
// table every status change in the system is checked against.
package state

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCanceled       Status = "canceled"
)

type Actor string

const (
	ActorStudent    Actor = "student"
	ActorRestaurant Actor = "restaurant"
	ActorCourier    Actor = "courier"
	ActorSystem     Actor = "system"
)

var ErrIllegalTransition = errors.New("illegal transition")

// transitions is the adjacency list of legal status moves. Anything not
// listed here is rejected, regardless of actor.
var transitions = map[Status][]Status{
	StatusPending:        {StatusPreparing, StatusCanceled},
	StatusPreparing:      {StatusReady, StatusCanceled},
	StatusReady:          {StatusOutForDelivery, StatusCanceled},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {},
	StatusCanceled:       {},
}

func Valid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

func Terminal(s Status) bool {
	return s == StatusDelivered || s == StatusCanceled
}

// Next reports whether actor may move an order from one status to the next.
// It returns ErrIllegalTransition (wrapped with detail) for any edge not in
// the table or any actor without permission for that edge.
func Next(from, to Status, actor Actor) error {
	if !edgeExists(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	if !actorAllowed(from, to, actor) {
		return fmt.Errorf("%w: actor %s may not request %s -> %s", ErrIllegalTransition, actor, from, to)
	}
	return nil
}

func edgeExists(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func actorAllowed(from, to Status, actor Actor) bool {
	switch actor {
	case ActorSystem:
		// The SLA supervisor only ever forces pending -> canceled.
		return from == StatusPending && to == StatusCanceled
	case ActorStudent:
		// Customers may cancel before the restaurant accepts, nothing else.
		return from == StatusPending && to == StatusCanceled
	case ActorRestaurant, ActorCourier:
		return true
	default:
		return false
	}
}

// Reachable reports whether to can be reached from from along any number of
// legal edges. Client observers use it to discard stale or out-of-order
// status pushes.
func Reachable(from, to Status) bool {
	if from == to {
		return false
	}
	seen := map[Status]bool{from: true}
	frontier := []Status{from}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		for _, next := range transitions[current] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false
}
