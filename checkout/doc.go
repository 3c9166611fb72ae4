// Package checkout orchestrates UCP checkout sessions on top of a
// [commerce.Backend].
//
// [Service] implements [ucp.CheckoutProvider]. Every operation on a session
// runs under that session's lock: load the record, call the backend, move
// the record through the state machine, persist it. When AP2 is active the
// service signs the checkout state after every change and verifies the
// platform's checkout and payment mandates exactly once before placing the
// order.
//
// The lock is released while the order is being placed. The session sits in
// complete_in_progress during that window, which rejects every other
// mutation.
package checkout
