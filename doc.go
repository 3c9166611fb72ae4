// Package ucp exposes a Universal Commerce Protocol (UCP) checkout gateway
// over net/http. It holds the wire models, request validation, error payloads
// and middleware shared by merchants and payment processors.
//
// # Checkout
//
// Use [NewCheckoutHandler] with a [CheckoutProvider] to serve the
// checkout-session contract. A provider that also implements
// [ProductSearcher], [HealthChecker] or [SessionViewer] gets the matching
// product search, backend health and continue page routes. Options such as
// [WithAuthenticator], [WithRateLimit] and [WithSignatureVerifier] guard the
// protected routes; [WithDiscoveryProfile] publishes /.well-known/ucp.
//
// # AP2 mandates
//
// When the merchant runs with AP2 enabled, session responses carry an ap2
// block with the merchant's checkout signature, and completion requires a
// checkout mandate signed by the platform plus a payment mandate signed by the
// payment processor. Mandate verification failures surface as [Error] values
// whose code names the failed check.
//
// # Payment mandates
//
// Payment processors can call [NewPaymentMandateHandler] with their own
// [PaymentMandateProvider] to accept authorization requests, validate them and
// return signed payment mandates bound to a checkout session.
//
// # Webhooks
//
// [WebhookSender] posts HMAC-signed order events to a platform endpoint once a
// session completes.
package ucp
